// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"context"
	"log/slog"
)

// reassembler collects the complete response to one outstanding command.
//
// Servers may split the output of a command across any number of response value packets without
// marking which one is last. To find the end, an empty response value packet (the probe) is sent
// right after the command. Servers answer packets strictly in the order they arrive, so the
// mirrored probe can only come back once every fragment of the command's output has been flushed.
// Servers follow the mirrored probe with one more response value packet, which is discarded.
type reassembler struct {
	s  *session
	op string
}

// collect returns the body of the response to req.
func (r reassembler) collect(ctx context.Context, req Packet) ([]byte, error) {
	if r.s.singlePacket {
		return r.single(ctx)
	}
	return r.probe(ctx, req)
}

// single reads exactly one packet and returns its body, whatever its type. It serves servers that
// do not mirror probe packets.
func (r reassembler) single(ctx context.Context) ([]byte, error) {
	p, err := r.s.receive(ctx, r.op)
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

func (r reassembler) probe(ctx context.Context, req Packet) ([]byte, error) {
	probe := Packet{
		ID:   r.s.nextID(),
		Type: PacketTypeResponseValue,
	}
	if err := r.s.send(ctx, r.op, probe); err != nil {
		return nil, err
	}

	var (
		body      bytes.Buffer
		fragments int
	)
	for {
		p, err := r.s.receive(ctx, r.op)
		if err != nil {
			return nil, err
		}
		if p.Type != PacketTypeResponseValue {
			return nil, protocolError(r.op, "unexpected packet type", &req, p)
		}
		if p.ID == probe.ID {
			break
		}
		if p.ID != req.ID {
			return nil, protocolError(r.op, "interleaved response for unexpected id", &req, p)
		}
		body.Write(p.Body)
		fragments++
	}

	// Read and ignore the extra packet that trails the mirrored probe.
	if _, err := r.s.receive(ctx, r.op); err != nil {
		return nil, err
	}

	if r.s.logger != nil {
		r.s.logger.LogAttrs(
			ctx, slog.LevelDebug, "reassembled response",
			slog.Int("id", int(req.ID)), slog.Int("fragments", fragments), slog.Int("bytes", body.Len()),
		)
	}

	return body.Bytes(), nil
}
