// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schultz-is/srcds-rcon"
)

// trailer is the body Source servers put in the packet that follows a mirrored probe.
var trailer = []byte{0, 0, 0, 1, 0, 0, 0, 0}

// mockServer plays the server side of a connection to a client under test.
type mockServer struct {
	t    *testing.T
	conn net.Conn
}

// newPipe returns a client and a mock server joined by an in-memory connection.
func newPipe(t *testing.T, config rcon.ClientConfig) (*rcon.Client, *mockServer) {
	t.Helper()

	cc, sc := net.Pipe()
	t.Cleanup(func() {
		_ = cc.Close()
		_ = sc.Close()
	})

	return rcon.NewClient(cc, config), &mockServer{t: t, conn: sc}
}

// run executes fn on its own goroutine and returns a channel closed once it returns.
func (m *mockServer) run(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func (m *mockServer) read() rcon.Packet {
	var p rcon.Packet
	_, err := p.ReadFrom(m.conn)
	assert.NoError(m.t, err, "mock server failed to read packet")
	return p
}

func (m *mockServer) write(p rcon.Packet) {
	_, err := p.WriteTo(m.conn)
	assert.NoError(m.t, err, "mock server failed to write packet")
}

// acceptAuth reads an authorization request and answers it the way Source servers do: an empty
// response value followed by an auth response carrying the request ID.
func (m *mockServer) acceptAuth() rcon.Packet {
	req := m.read()
	m.write(rcon.Packet{ID: req.ID, Type: rcon.PacketTypeResponseValue})
	m.write(rcon.Packet{ID: req.ID, Type: rcon.PacketTypeAuthResponse})
	return req
}

// rejectAuth reads an authorization request and answers it with an auth failure.
func (m *mockServer) rejectAuth() rcon.Packet {
	req := m.read()
	m.write(rcon.Packet{ID: req.ID, Type: rcon.PacketTypeResponseValue})
	m.write(rcon.Packet{ID: -1, Type: rcon.PacketTypeAuthResponse})
	return req
}

// serveCommand reads a command and its probe, answers the command with one packet per fragment,
// then mirrors the probe and sends the trailing packet. The command and probe are returned.
func (m *mockServer) serveCommand(fragments ...string) (cmd, probe rcon.Packet) {
	cmd = m.read()
	probe = m.read()
	for _, f := range fragments {
		m.write(rcon.Packet{ID: cmd.ID, Type: rcon.PacketTypeResponseValue, Body: []byte(f)})
	}
	m.write(rcon.Packet{ID: probe.ID, Type: rcon.PacketTypeResponseValue})
	m.write(rcon.Packet{ID: probe.ID, Type: rcon.PacketTypeResponseValue, Body: trailer})
	return cmd, probe
}

// recordingConn counts writes made to the wrapped connection.
type recordingConn struct {
	net.Conn
	writes atomic.Int32
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.writes.Add(1)
	return c.Conn.Write(b)
}
