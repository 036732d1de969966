// Package wire implements the MultiSense datagram framing and the message
// catalogue carried inside reassembled messages.
//
// Every datagram starts with a fixed 18-byte packed little-endian header:
//
//	magic u16 | version u16 | group u16 | flags u16 | sequence u16 |
//	messageLength u32 | byteOffset u32
//
// followed by a fragment of a logical message. The first fragment of each
// message (byteOffset 0) begins with the message id and version, both u16.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol constants. A datagram whose header does not carry exactly these
// values is rejected.
const (
	HeaderMagic   uint16 = 0xadad
	HeaderVersion uint16 = 0x0100
	HeaderGroup   uint16 = 0x0001

	HeaderSize = 18
)

// ErrFraming is returned for datagrams that are too short or carry the wrong
// magic, version or group.
var ErrFraming = errors.New("framing error")

// Header is the parsed datagram header.
type Header struct {
	Magic         uint16
	Version       uint16
	Group         uint16
	Flags         uint16
	Sequence      uint16
	MessageLength uint32
	ByteOffset    uint32
}

// ParseHeader validates a raw datagram and returns its header and the
// fragment bytes that follow it. The returned fragment aliases datagram.
func ParseHeader(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: undersized packet: %d/%d bytes", ErrFraming, len(datagram), HeaderSize)
	}

	h := Header{
		Magic:         binary.LittleEndian.Uint16(datagram[0:2]),
		Version:       binary.LittleEndian.Uint16(datagram[2:4]),
		Group:         binary.LittleEndian.Uint16(datagram[4:6]),
		Flags:         binary.LittleEndian.Uint16(datagram[6:8]),
		Sequence:      binary.LittleEndian.Uint16(datagram[8:10]),
		MessageLength: binary.LittleEndian.Uint32(datagram[10:14]),
		ByteOffset:    binary.LittleEndian.Uint32(datagram[14:18]),
	}

	switch {
	case h.Magic != HeaderMagic:
		return Header{}, nil, fmt.Errorf("%w: bad protocol magic: 0x%x, expecting 0x%x", ErrFraming, h.Magic, HeaderMagic)
	case h.Version != HeaderVersion:
		return Header{}, nil, fmt.Errorf("%w: bad protocol version: 0x%x, expecting 0x%x", ErrFraming, h.Version, HeaderVersion)
	case h.Group != HeaderGroup:
		return Header{}, nil, fmt.Errorf("%w: bad protocol group: 0x%x, expecting 0x%x", ErrFraming, h.Group, HeaderGroup)
	}

	return h, datagram[HeaderSize:], nil
}

// PutHeader writes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, h Header) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:2], h.Magic)
	binary.LittleEndian.PutUint16(b[2:4], h.Version)
	binary.LittleEndian.PutUint16(b[4:6], h.Group)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint16(b[8:10], h.Sequence)
	binary.LittleEndian.PutUint32(b[10:14], h.MessageLength)
	binary.LittleEndian.PutUint32(b[14:18], h.ByteOffset)
}

// PeekID returns the message id stored at the start of a first fragment.
func PeekID(fragment []byte) (ID, bool) {
	if len(fragment) < 2 {
		return 0, false
	}
	return ID(binary.LittleEndian.Uint16(fragment)), true
}
