// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"fmt"
	"strings"
)

// ErrorKind classifies the errors returned by this package. Every [*Error] carries one, and the
// kinds themselves satisfy the error interface so they can be used as targets for [errors.Is]:
//
//	if errors.Is(err, rcon.ErrAuth) {
//		// bad password
//	}
type ErrorKind uint8

const (
	// ErrSize indicates an outgoing packet would exceed [MaximumPacketSize]. Nothing is written to
	// the connection when this error is returned, so the caller may shorten the command and retry.
	ErrSize ErrorKind = iota + 1

	// ErrAuth indicates the server rejected the supplied password. The session must be discarded.
	ErrAuth

	// ErrProtocol indicates the server sent a packet with an unexpected type or ID. The session is
	// left in an indeterminate state and must be discarded.
	ErrProtocol

	// ErrState indicates an operation was attempted in the wrong session state, such as executing
	// a command before authenticating.
	ErrState

	// ErrTransport indicates the underlying connection failed, was closed, or timed out. The
	// session must be discarded.
	ErrTransport
)

// Error implements the error interface.
func (k ErrorKind) Error() string {
	return "rcon: " + k.String()
}

// String returns a short, human readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrSize:
		return "packet too large"
	case ErrAuth:
		return "unauthorized"
	case ErrProtocol:
		return "protocol violation"
	case ErrState:
		return "invalid session state"
	case ErrTransport:
		return "transport failure"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type returned by [Client] operations. Request and
// Response are populated whenever they help explain a protocol violation, which makes expected
// and actual IDs and types available to callers through [errors.As].
type Error struct {
	// Kind classifies the error.
	Kind ErrorKind

	// Op names the operation that failed, such as "authenticate" or "execute".
	Op string

	// Msg describes the failure.
	Msg string

	// Request is the outstanding request packet, if any.
	Request *Packet

	// Response is the offending packet received from the server, if any.
	Response *Packet

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("rcon: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Request != nil && e.Response != nil {
		fmt.Fprintf(
			&b, " (request id %d type %d, response id %d type %d)",
			e.Request.ID, e.Request.Type, e.Response.ID, e.Response.Type,
		)
	} else if e.Response != nil {
		fmt.Fprintf(&b, " (response id %d type %d)", e.Response.ID, e.Response.Type)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// protocolError builds an [ErrProtocol] error carrying copies of the packets involved. The body of
// an authorization request is dropped so the password never travels inside an error value.
func protocolError(op, msg string, req *Packet, resp Packet) *Error {
	got := resp.Clone()
	e := &Error{Kind: ErrProtocol, Op: op, Msg: msg, Response: &got}
	if req != nil {
		want := req.Clone()
		if want.Type == PacketTypeAuth {
			want.Body = nil
		}
		e.Request = &want
	}
	return e
}

func transportError(op string, err error) *Error {
	return &Error{Kind: ErrTransport, Op: op, Err: err}
}
