package internal

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type PayloadLengthType uint8

const (
	// 0-125, first 7 bits represent length as is
	PayloadLengthTypeShort PayloadLengthType = iota
	// 126-2^16-1, first 7 bits = 126, next 16 bits represent length
	PayloadLengthTypeMedium
	// 2^16-2^63-1, first 7 bits = 127, next 64 bits represent length
	PayloadLengthTypeHigh
)

const (
	maxShortPayloadLength = 125

	payloadLengthMarkerMedium = 126
	payloadLengthMarkerHigh   = 127

	// Most significant bit of the 64-bit length must be 0.
	MaxPayloadLength = math.MaxInt64
)

// Markers 126 and 127 are reserved, so selection goes by value range
// and never by the number of bits needed.
func PayloadLengthTypeOf(l uint64) PayloadLengthType {
	switch {
	case l <= maxShortPayloadLength:
		return PayloadLengthTypeShort
	case l <= math.MaxUint16:
		return PayloadLengthTypeMedium
	default:
		return PayloadLengthTypeHigh
	}
}

// Number of bytes following the 7-bit length field.
func (t PayloadLengthType) ExtensionSize() int {
	switch t {
	case PayloadLengthTypeMedium:
		return 2
	case PayloadLengthTypeHigh:
		return 8
	}
	return 0
}

// AppendPayloadLength appends the second header byte (maskBit | length or marker)
// and the extended length, if any.
func AppendPayloadLength(b []byte, maskBit byte, l uint64) []byte {
	switch PayloadLengthTypeOf(l) {
	case PayloadLengthTypeShort:
		return append(b, maskBit|byte(l))
	case PayloadLengthTypeMedium:
		b = append(b, maskBit|payloadLengthMarkerMedium)
		return binary.BigEndian.AppendUint16(b, uint16(l))
	default:
		b = append(b, maskBit|payloadLengthMarkerHigh)
		return binary.BigEndian.AppendUint64(b, l)
	}
}

// ReadPayloadLength decodes the length from the 7-bit field of b1, reading the
// extended length from r when b1 carries one of the markers.
func ReadPayloadLength(r io.Reader, b1 byte) (uint64, error) {
	l := uint64(b1 & 0b0_1111111)

	switch l {
	case payloadLengthMarkerMedium:
		var ext [2]byte
		if err := readFull(r, ext[:]); err != nil {
			return 0, fmt.Errorf("payload length 126 signaled that next 16 bits must be actual length, but failed to read them: [%w]", err)
		}
		return uint64(binary.BigEndian.Uint16(ext[:])), nil
	case payloadLengthMarkerHigh:
		var ext [8]byte
		if err := readFull(r, ext[:]); err != nil {
			return 0, fmt.Errorf("payload length 127 signaled that next 64 bits must be actual length, but failed to read them: [%w]", err)
		}
		l = binary.BigEndian.Uint64(ext[:])
		if l > MaxPayloadLength {
			return 0, fmt.Errorf("%w: most significant bit of 64-bit payload length must be 0", ErrProtocol)
		}
		return l, nil
	}

	return l, nil
}
