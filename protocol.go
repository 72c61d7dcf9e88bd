// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WrapperSize is the cumulative size of non-body bytes that contribute to calculation of the packet
// size that precedes a binary packet. Eight bytes are accounted for by the packet ID and type,
// while two bytes are accounted for by the null byte termination of the body and packet. The packet
// size itself is not included in the size calculation.
const WrapperSize = 8 + 2

// HeaderSize is the length of the fixed header at the start of every binary packet: the packet
// size, ID, and type, each a little-endian 32-bit integer.
const HeaderSize = 4 + 4 + 4

// MaximumPacketSize is the largest value allowed for the packet size that precedes binary packets.
// This value is outlined in the protocol.
const MaximumPacketSize = 4096

// MaximumBodySize is the largest body that fits in a single packet.
const MaximumBodySize = MaximumPacketSize - WrapperSize

const (
	// PacketTypeAuth represents a client authorization request packet. It indicates that the body
	// will contain the server password.
	PacketTypeAuth = 3

	// PacketTypeAuthResponse represents a server authorization response packet. If authorization
	// failed, the packet ID will have a value of -1 rather than that of the matching client request
	// packet.
	PacketTypeAuthResponse = 2

	// PacketTypeExecCommand represents a client request packet that contains a command to be executed
	// by the server. It shares its value with [PacketTypeAuthResponse]; the two are only told apart
	// by the direction they travel in.
	PacketTypeExecCommand = 2

	// PacketTypeResponseValue represents a server response packet that contains the output of a
	// server command initiated by a [PacketTypeExecCommand] client request packet. Clients also send
	// empty packets of this type to detect the end of a multi-packet response.
	PacketTypeResponseValue = 0
)

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// ID is a field chosen by the client which can be used to correlate request packets with
	// response packets. The singular case where this response field will not match the request
	// packet is in the case of auth failure, where the [Packet.Type] will be an
	// [PacketTypeAuthResponse] and this field will have a value of -1. In every other case this
	// field should be a positive integer.
	ID int32

	// Type indicates the purpose of the packet. Its value should always be one of [PacketTypeAuth],
	// [PacketTypeAuthResponse], [PacketTypeExecCommand], or [PacketTypeResponseValue].
	Type int32

	// Body contains the data relevant to the provided packet type. This will be the RCON password for
	// the server, the command to be executed, or the server's response to a request. It's possible
	// that the body is empty. The two null bytes terminating a packet on the wire are not part of
	// the body.
	Body []byte
}

// Header is the fixed-size prefix of a binary packet.
type Header struct {
	// Size counts the bytes that follow the size field itself: ID, type, body, and the two
	// terminating null bytes.
	Size int32
	ID   int32
	Type int32
}

// BodySize returns the number of body bytes that follow the header, excluding the terminator.
func (h Header) BodySize() int {
	return int(h.Size) - WrapperSize
}

// DecodeHeader parses the leading [HeaderSize] bytes of b. The size field is not checked against
// the rest of b; callers use it to learn how many more bytes belong to the packet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	return Header{
		Size: int32(binary.LittleEndian.Uint32(b[0:4])),
		ID:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Type: int32(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// Size returns the value of the size field that precedes the receiving packet on the wire.
func (p Packet) Size() int32 {
	return int32(len(p.Body) + WrapperSize)
}

// MarshalBinary encodes the receiving [Packet] into binary form and returns the result. This
// satisfies the [encoding.BinaryMarshaler] interface. An error of kind [ErrSize] is returned
// when the packet would exceed [MaximumPacketSize].
func (p Packet) MarshalBinary() ([]byte, error) {
	// Ensure the packet conforms to the maximum size defined in the protocol.
	if len(p.Body) > MaximumBodySize {
		return nil, newError(ErrSize, "marshal", "packet too large")
	}
	packetSize := p.Size()

	// Create an appropriately sized byte buffer and write the binary encoded packet.
	b := bytes.NewBuffer(make([]byte, 0, packetSize+4))
	err := binary.Write(b, binary.LittleEndian, [3]int32{packetSize, p.ID, p.Type})
	if err != nil {
		return nil, err
	}
	_, err = b.Write(p.Body)
	if err != nil {
		return nil, err
	}
	_, err = b.Write([]byte{0, 0})
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// WriteTo writes a binary representation of the packet to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface. The packet is fully encoded, and its size checked, before anything is
// written. Short writes are continued until every byte has been written or w returns an error.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(bs) {
		n, err := w.Write(bs[written:])
		written += n
		if err != nil {
			return int64(written), err
		}
		if n == 0 {
			return int64(written), io.ErrShortWrite
		}
	}

	return int64(written), nil
}

// UnmarshalBinary decodes the binary encoded packet b into the receiving [Packet]. This satisfies
// the [encoding.BinaryUnmarshaler] interface. Unlike [Packet.ReadFrom], b must contain exactly
// one packet.
func (p *Packet) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	_, err := p.ReadFrom(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return newError(ErrProtocol, "unmarshal", "trailing bytes after packet")
	}
	return nil
}

// ReadFrom reads a binary representation of a packet into the receiving [Packet] instance. This
// method satisfies the [io.ReaderFrom] interface. Reads block until the whole packet is available
// or r returns an error; an end of stream part way through a packet is reported as
// [io.ErrUnexpectedEOF].
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	// Keep track of bytes read.
	n := int64(0)

	hb := make([]byte, HeaderSize)
	read, err := io.ReadFull(r, hb)
	n += int64(read)
	if err != nil {
		return n, err
	}
	h, _ := DecodeHeader(hb)

	// Ensure the packet size isn't smaller than allowed by the protocol.
	if h.Size < WrapperSize {
		return n, newError(ErrProtocol, "read", "packet too small")
	}

	// Ensure the packet size isn't larger than allowed by the protocol.
	if h.Size > MaximumPacketSize {
		return n, newError(ErrProtocol, "read", "packet too large")
	}

	// The remainder holds the body followed by the two terminating null bytes.
	rest := make([]byte, h.Size-8)
	read, err = io.ReadFull(r, rest)
	n += int64(read)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}

	// Ensure the packet is properly terminated by two zero bytes.
	z := rest[len(rest)-2:]
	if z[0] != 0 || z[1] != 0 {
		return n, newError(ErrProtocol, "read", "packet incorrectly terminated")
	}

	p.ID = h.ID
	p.Type = h.Type
	p.Body = rest[:len(rest)-2]

	return n, nil
}

// EqualTo determines if the provided Packet content matches the receiving Packet content. A nil
// body and an empty body are considered equal.
func (p Packet) EqualTo(p2 Packet) bool {
	switch {
	case p.ID != p2.ID:
		return false
	case p.Type != p2.Type:
		return false
	case !bytes.Equal(p.Body, p2.Body):
		return false
	}
	return true
}

// Clone returns a deep copy of the receiving packet.
func (p Packet) Clone() Packet {
	c := p
	if p.Body != nil {
		c.Body = bytes.Clone(p.Body)
	}
	return c
}
