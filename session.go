// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"time"
)

// State is the position of a session in the authentication state machine.
type State uint32

const (
	// StateDisconnected means the underlying connection has been closed.
	StateDisconnected State = iota

	// StateConnected means a connection exists but no authorization has been attempted.
	StateConnected

	// StateAuthenticating means an authorization handshake is in progress.
	StateAuthenticating

	// StateAuthenticated means the server accepted the password and commands may be executed.
	StateAuthenticated

	// StateAuthFailed means the handshake failed. The connection should be discarded.
	StateAuthFailed

	// StateBroken means a protocol or transport error left the connection in an indeterminate
	// state. The connection should be discarded.
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthFailed:
		return "auth failed"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O when a context is done.
var aLongTimeAgo = time.Unix(1, 0)

// session owns a single connection to an RCON server along with its packet ID sequence and
// authentication state. It is not safe for concurrent use; [Client] serializes access to it.
type session struct {
	// seq is the ID the next outgoing packet will carry. It starts at one and is never -1.
	seq atomic.Int32

	// state holds a [State].
	state atomic.Uint32

	// conn is the underlying connection RCON messages are sent and received over.
	conn net.Conn

	timeout      time.Duration
	singlePacket bool

	logger                 *slog.Logger
	logOutboundAuthPackets bool
}

func newSession(conn net.Conn, config ClientConfig) *session {
	s := &session{
		conn:                   conn,
		timeout:                config.Timeout,
		singlePacket:           config.SinglePacket,
		logger:                 config.Logger,
		logOutboundAuthPackets: config.LogOutboundAuthPackets,
	}
	s.seq.Store(config.StartingSeq)
	s.state.Store(uint32(StateConnected))
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

// setState moves the session to st. A closed session stays disconnected.
func (s *session) setState(ctx context.Context, st State) {
	var prev State
	for {
		cur := s.state.Load()
		prev = State(cur)
		if prev == StateDisconnected || prev == st {
			return
		}
		if s.state.CompareAndSwap(cur, uint32(st)) {
			break
		}
	}
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(
		ctx, slog.LevelDebug, "session state changed",
		slog.String("from", prev.String()), slog.String("to", st.String()),
	)
}

// fail moves the session to [StateBroken] when err leaves the connection unusable. Size errors
// are raised before anything is written, so they leave the session untouched.
func (s *session) fail(ctx context.Context, err error) {
	if errors.Is(err, ErrProtocol) || errors.Is(err, ErrTransport) {
		s.setState(ctx, StateBroken)
	}
}

func (s *session) close() error {
	s.state.Store(uint32(StateDisconnected))
	return s.conn.Close()
}

// nextID returns and then increments the session's packet ID sequence, wrapping around to one
// when [math.MaxInt32] is reached. Zero and negative values are never returned.
func (s *session) nextID() int32 {
	var id int32
	swapped := false
	for !swapped {
		id = s.seq.Load()
		switch {
		case id < 1:
			swapped = s.seq.CompareAndSwap(id, 2)
			id = 1

		case id == math.MaxInt32:
			swapped = s.seq.CompareAndSwap(id, 1)

		default:
			swapped = s.seq.CompareAndSwap(id, id+1)
		}
	}
	return id
}

// arm applies the deadline for one operation to the connection and returns a function that
// clears it again. The deadline is the earlier of the session timeout and the context deadline,
// and cancelling ctx expires it immediately so blocked reads and writes return.
func (s *session) arm(ctx context.Context) (disarm func()) {
	var deadline time.Time
	timeout := s.timeout
	if timeout == 0 {
		timeout = DefaultClientTimeout
	}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(expired)
		_ = s.conn.SetDeadline(aLongTimeAgo)
	})
	return func() {
		if stop() {
			_ = s.conn.SetDeadline(time.Time{})
			return
		}
		// The callback already started; it must not touch the next operation's deadline.
		<-expired
	}
}

// ioError converts a failure from the codec or the connection into an [*Error].
func (s *session) ioError(ctx context.Context, op string, err error) error {
	var rerr *Error
	if errors.As(err, &rerr) {
		if rerr.Op != op {
			wrapped := *rerr
			wrapped.Op = op
			return &wrapped
		}
		return rerr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return transportError(op, err)
}

// send writes one packet to the connection. Packets that are too large are rejected before any
// byte is written.
func (s *session) send(ctx context.Context, op string, p Packet) error {
	if _, err := p.MarshalBinary(); err != nil {
		return s.ioError(ctx, op, err)
	}
	s.logPacket(ctx, "sending packet", p)
	if _, err := p.WriteTo(s.conn); err != nil {
		return s.ioError(ctx, op, err)
	}
	return nil
}

// receive reads one packet from the connection without validating it.
func (s *session) receive(ctx context.Context, op string) (Packet, error) {
	var p Packet
	if _, err := p.ReadFrom(s.conn); err != nil {
		return Packet{}, s.ioError(ctx, op, err)
	}
	s.logPacket(ctx, "received packet", p)
	return p, nil
}

// readResponse reads one packet through the validated read path. Unless the session is in
// single-packet mode the packet must be a response value or an auth response, and when req is
// provided its ID must match the request's.
func (s *session) readResponse(ctx context.Context, op string, req *Packet) (Packet, error) {
	p, err := s.receive(ctx, op)
	if err != nil {
		return Packet{}, err
	}
	if !s.singlePacket && p.Type != PacketTypeResponseValue && p.Type != PacketTypeAuthResponse {
		return p, protocolError(op, "unexpected packet type", req, p)
	}
	if req != nil && p.ID != req.ID {
		return p, protocolError(op, "response id does not match request id", req, p)
	}
	return p, nil
}

// authenticate performs the authorization handshake. The server answers an auth packet with an
// empty response value followed by an auth response whose ID is -1 when the password is wrong.
func (s *session) authenticate(ctx context.Context, password string) error {
	const op = "authenticate"

	if st := s.State(); st != StateConnected {
		return newError(ErrState, op, fmt.Sprintf("cannot authenticate a session that is %s", st))
	}

	s.setState(ctx, StateAuthenticating)
	err := s.handshake(ctx, op, password)
	switch {
	case err == nil:
		s.setState(ctx, StateAuthenticated)
	case errors.Is(err, ErrSize):
		s.setState(ctx, StateConnected)
	default:
		s.setState(ctx, StateAuthFailed)
	}
	return err
}

func (s *session) handshake(ctx context.Context, op, password string) error {
	req := Packet{
		ID:   s.nextID(),
		Type: PacketTypeAuth,
		Body: []byte(password),
	}
	if err := s.send(ctx, op, req); err != nil {
		return err
	}

	if _, err := s.readResponse(ctx, op, &req); err != nil {
		return err
	}

	resp, err := s.readResponse(ctx, op, nil)
	if err != nil {
		return err
	}
	if resp.Type != PacketTypeAuthResponse {
		return protocolError(op, "unexpected packet type during authentication", &req, resp)
	}
	if resp.ID == -1 {
		return newError(ErrAuth, op, "rejected credentials")
	}
	return nil
}

// redactedPassword stands in for auth bodies in logs. Its fixed length also hides the password's.
var redactedPassword = []byte("xxxxx")

// logPacket writes packet to the debug log as hex. Outbound auth packets carry the password, so
// their body is replaced with a fixed placeholder unless logOutboundAuthPackets is set.
func (s *session) logPacket(ctx context.Context, logMsg string, packet Packet) {
	if s.logger == nil || !s.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}

	if packet.Type == PacketTypeAuth && !s.logOutboundAuthPackets {
		packet.Body = redactedPassword
	}

	bs, err := packet.MarshalBinary()
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "cannot encode packet for logging", slog.Any("error", err))
		return
	}

	s.logger.LogAttrs(ctx, slog.LevelDebug, logMsg, slog.String("packet", hex.EncodeToString(bs)))
}
