package wire

import (
	"fmt"
)

// Encode serialises m with its id and version prefix. Opaque messages are
// written with their stored version and payload.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *Opaque:
		w := NewWriter(MessagePrefixSize + len(v.Payload))
		w.Uint16(uint16(v.ID))
		w.Uint16(v.Version)
		w.Raw(v.Payload)
		return w.Bytes(), nil
	case body:
		w := NewWriter(256)
		w.Uint16(uint16(v.MessageID()))
		w.Uint16(v.wireVersion())
		v.encode(w)
		return w.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownMessageType, m)
}

// PackedDisparityLength returns the wire size of pixels disparity pixels.
func PackedDisparityLength(pixels int) int {
	return (pixels*DisparityWireBitsPerPixel + 7) / 8
}

// PackDisparity packs little-endian 16-bit pixels into 12 bits each. Pixel
// values above 4095 are truncated. Two pixels share three bytes:
//
//	b0 = p0[7:0], b1 = p0[11:8] | p1[3:0]<<4, b2 = p1[11:4]
func PackDisparity(pixels16 []byte) []byte {
	n := len(pixels16) / 2
	out := make([]byte, PackedDisparityLength(n))
	for i := 0; i < n; i += 2 {
		p0 := (uint16(pixels16[2*i]) | uint16(pixels16[2*i+1])<<8) & 0x0fff
		o := i / 2 * 3
		out[o] = byte(p0)
		out[o+1] = byte(p0 >> 8)
		if i+1 < n {
			p1 := (uint16(pixels16[2*i+2]) | uint16(pixels16[2*i+3])<<8) & 0x0fff
			out[o+1] |= byte(p1 << 4)
			out[o+2] = byte(p1 >> 4)
		}
	}
	return out
}

// UnpackDisparity expands packed 12-bit pixels into dst as little-endian
// 16-bit pixels. dst must hold 2*pixels bytes and packed must hold
// PackedDisparityLength(pixels) bytes.
//
// dst and packed may overlap when packed starts at or after the point where
// the expanded image would reach it; pixels are written front to back and
// each write lands before the bytes still to be read.
func UnpackDisparity(dst, packed []byte, pixels int) {
	for i := 0; i < pixels; i += 2 {
		o := i / 2 * 3
		b0, b1 := packed[o], packed[o+1]
		var b2 byte
		if i+1 < pixels {
			b2 = packed[o+2]
		}
		p0 := uint16(b0) | uint16(b1&0x0f)<<8
		dst[2*i] = byte(p0)
		dst[2*i+1] = byte(p0 >> 8)
		if i+1 < pixels {
			p1 := uint16(b1>>4) | uint16(b2)<<4
			dst[2*i+2] = byte(p1)
			dst[2*i+3] = byte(p1 >> 8)
		}
	}
}

// Fragment splits an encoded message into datagrams carrying at most
// maxPayload message bytes each. Every datagram gets a header with the given
// sequence number, the full message length and its byte offset.
func Fragment(sequence uint16, msg []byte, maxPayload int) ([][]byte, error) {
	if maxPayload <= 0 {
		return nil, fmt.Errorf("invalid max payload %d", maxPayload)
	}
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var out [][]byte
	for off := 0; off < len(msg); off += maxPayload {
		end := min(off+maxPayload, len(msg))
		d := make([]byte, HeaderSize+end-off)
		PutHeader(d, Header{
			Magic:         HeaderMagic,
			Version:       HeaderVersion,
			Group:         HeaderGroup,
			Sequence:      sequence,
			MessageLength: uint32(len(msg)),
			ByteOffset:    uint32(off),
		})
		copy(d[HeaderSize:], msg[off:end])
		out = append(out, d)
	}
	return out, nil
}
