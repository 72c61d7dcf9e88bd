// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides mechanisms for interacting with the Source RCON protocol as described by
Valve Software at https://developer.valvesoftware.com/wiki/Source_RCON_Protocol.

A [Client] authenticates once with [Client.Authenticate] and then runs commands with
[Client.Execute]. Command output larger than a single packet is reassembled transparently by
sending an empty probe packet after every command and collecting fragments until the server
mirrors the probe back.

Failures are reported as [*Error] values classified by [ErrorKind]:

	out, err := c.Execute(ctx, "status")
	switch {
	case errors.Is(err, rcon.ErrSize):
		// the command does not fit in one packet, nothing was sent
	case errors.Is(err, rcon.ErrProtocol), errors.Is(err, rcon.ErrTransport):
		// the connection is unusable, dial a new client
	}
*/
package rcon
