// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultClientTimeout is the default amount of time allowed for a client to complete an
// operation, such as authorizing or executing a command, including every packet round trip the
// operation requires.
const DefaultClientTimeout = 15 * time.Second

// DefaultPort is the port Source dedicated servers listen for RCON connections on by default.
const DefaultPort = 27015

// Client is an RCON client that manages a single connection to an RCON server. While the RCON
// protocol specifies transport over TCP, this client allows transport over anything that satisfies
// the [net.Conn] interface. There are a few reasons this might be useful to a consumer of this
// package:
//  1. In the case the RCON server and client are running on the same machine, it may be useful to
//     communicate over a Unix socket (or other IPC communication transport,) rather than a full
//     TCP socket.
//  2. Providing a [net.Conn] that the caller controls allows for logging, debugging, and
//     packet modification outside the scope of the client.
//  3. Tests can drive a client against an in-memory server with [net.Pipe].
//
// A client must be authorized with [Client.Authenticate] before commands can be executed. Each
// client owns its own packet ID sequence, which starts at one and is never shared.
//
// Clients are safe for concurrent use, but only one operation is in flight at a time: the
// multi-packet response algorithm depends on strict request and response lockstep, so concurrent
// calls wait for each other. Pool clients to avoid contention in high-throughput scenarios.
//
// Once an operation fails with [ErrAuth], [ErrProtocol], or [ErrTransport], the connection is in
// an indeterminate state and every later operation fails with [ErrState]. Close the client and
// dial a new one; the client never reconnects or retries on its own.
type Client struct {
	// mu controls concurrent access to the underlying session.
	mu sync.Mutex

	session *session
}

// NewClient creates and returns a [Client] that uses conn as its transport, configured by the
// provided config.
//
// Once a conn is provided to a NewClient call, the conn should not be used outside of the client
// in order to ensure reliable message delivery.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	return &Client{session: newSession(conn, config)}
}

// Dial connects to the RCON server at address over TCP and returns an unauthorized [Client].
// The configured timeout bounds the connection attempt as well.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	d := net.Dialer{}
	if config.Timeout > 0 {
		d.Timeout = config.Timeout
	} else if config.Timeout == 0 {
		d.Timeout = DefaultClientTimeout
	}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, transportError("dial", err)
	}

	if config.Logger != nil {
		config.Logger.LogAttrs(ctx, slog.LevelDebug, "connected", slog.String("address", conn.RemoteAddr().String()))
	}

	return NewClient(conn, config), nil
}

// Connect is a convenience wrapper around [Dial] for a host and port pair.
func Connect(ctx context.Context, host string, port int, config ClientConfig) (*Client, error) {
	if port <= 0 || port > 65535 {
		return nil, newError(ErrTransport, "dial", fmt.Sprintf("invalid port %d", port))
	}
	return Dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)), config)
}

// Close simply closes the receiving client's underlying connection. Any operation blocked on the
// connection returns with an [ErrTransport] error.
func (c *Client) Close() error {
	// The connection is closed without waiting for mu so that blocked operations are released.
	return c.session.close()
}

// State reports where the client's session is in the authorization state machine.
func (c *Client) State() State {
	return c.session.State()
}

// Authenticate sends the provided password to the RCON server to authorize the current session.
// An [ErrAuth] error is returned when the server rejects the password.
func (c *Client) Authenticate(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	disarm := c.session.arm(ctx)
	defer disarm()

	return c.session.authenticate(ctx, password)
}

// Execute runs command on the server and returns its complete output as text, with any trailing
// null bytes removed. Responses split across several packets are reassembled in the order the
// server sent them.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	resp, err := c.ExecCommand(ctx, []byte(command))
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// ExecCommand sends the provided bytes as a command to the server and returns the response body
// with any trailing null bytes removed.
func (c *Client) ExecCommand(ctx context.Context, cmd []byte) ([]byte, error) {
	const op = "execute"

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if st := s.State(); st != StateAuthenticated {
		return nil, newError(ErrState, op, fmt.Sprintf("cannot execute commands on a session that is %s", st))
	}

	disarm := s.arm(ctx)
	defer disarm()

	req := Packet{
		ID:   s.nextID(),
		Type: PacketTypeExecCommand,
		Body: cmd,
	}
	if err := s.send(ctx, op, req); err != nil {
		s.fail(ctx, err)
		return nil, err
	}

	body, err := reassembler{s: s, op: op}.collect(ctx, req)
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}

	return bytes.TrimRight(body, "\x00"), nil
}

// Request sends the provided [Packet] to the RCON server and returns the next response [Packet].
// The request's ID is replaced with the next ID in the client's sequence, and the response must
// carry the same ID. No multi-packet reassembly is performed, so this is mostly useful for
// diagnostics and for servers with non-standard commands.
func (c *Client) Request(ctx context.Context, req Packet) (*Packet, error) {
	const op = "request"

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if st := s.State(); st != StateAuthenticated {
		return nil, newError(ErrState, op, fmt.Sprintf("cannot send requests on a session that is %s", st))
	}

	disarm := s.arm(ctx)
	defer disarm()

	req.ID = s.nextID()
	if err := s.send(ctx, op, req); err != nil {
		s.fail(ctx, err)
		return nil, err
	}

	resp, err := s.readResponse(ctx, op, &req)
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}
	return &resp, nil
}

// ClientConfig contains settings to control [Client] instances.
type ClientConfig struct {
	// Timeout limits the amount of time a client can spend performing an operation, including
	// dialing. A value of zero will inform the client to use the [DefaultClientTimeout], while a
	// negative value disables the limit so only the context passed to each call applies.
	Timeout time.Duration

	// StartingSeq is the initial value for a client's packet ID sequence. Any value less than one
	// will be ignored and the sequence will start at one.
	StartingSeq int32

	// SinglePacket disables multi-packet response reassembly. Commands are answered with exactly
	// one packet, read without checking its type. Enable this for RCON-compatible servers that do
	// not mirror empty response value packets, such as many non-Source games.
	SinglePacket bool

	// Logger receives log entries from a client.
	Logger *slog.Logger

	// LogOutboundAuthPackets includes the plaintext password in debug logs of outgoing auth
	// packets. It is off by default, and auth packets are logged with a placeholder body of fixed
	// length instead. Enable it only when debugging a server whose logs are kept private.
	LogOutboundAuthPackets bool
}
