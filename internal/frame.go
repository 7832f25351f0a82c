package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
*/

const (
	bitFIN  = 0b1_000_0000
	bitsRSV = 0b0_111_0000
	bitsOp  = 0b0_000_1111
	bitMask = 0b1_0000000

	// 2 fixed bytes, 8 bytes of extended length, 4 bytes of masking key
	MaxFrameHeaderSize = 2 + 8 + 4

	// larger payloads are buffered as they arrive
	payloadPreallocLimit = 64 * 1024
)

type FrameHeader struct {
	IsFinalFrame bool
	// 4 bits
	Opcode Opcode
	// 1 bit
	IsMasked bool
	// 7 bits, 7+16 bits, or 7+64 bits
	PayloadLength uint64
	// 0 or 4 bytes, only meaningful when IsMasked
	MaskingKey [4]byte
}

// NewFrameHeader builds the header of a single, final frame. When masked,
// the masking key is read from rand.
func NewFrameHeader(opcode Opcode, payloadLength uint64, masked bool, rand io.Reader) (FrameHeader, error) {
	if payloadLength > MaxPayloadLength {
		return FrameHeader{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, uint64(MaxPayloadLength))
	}

	f := FrameHeader{
		IsFinalFrame:  true,
		Opcode:        opcode,
		IsMasked:      masked,
		PayloadLength: payloadLength,
	}

	if masked {
		if _, err := io.ReadFull(rand, f.MaskingKey[:]); err != nil {
			return FrameHeader{}, fmt.Errorf("failed to generate masking key: [%w]", err)
		}
	}

	return f, nil
}

// Size is the number of bytes AppendTo produces.
func (f FrameHeader) Size() int {
	n := 2 + PayloadLengthTypeOf(f.PayloadLength).ExtensionSize()
	if f.IsMasked {
		n += 4
	}
	return n
}

func (f FrameHeader) AppendTo(b []byte) []byte {
	var b0, maskBit byte

	if f.IsFinalFrame {
		b0 |= bitFIN
	}
	b0 |= byte(f.Opcode) & bitsOp
	b = append(b, b0)

	if f.IsMasked {
		maskBit = bitMask
	}
	b = AppendPayloadLength(b, maskBit, f.PayloadLength)

	if f.IsMasked {
		b = append(b, f.MaskingKey[:]...)
	}

	return b
}

// ReadFrameHeader consumes exactly one frame header from r.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var fixed [2]byte

	n, err := io.ReadFull(r, fixed[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return FrameHeader{}, fmt.Errorf("%w: [%w]", ErrEndOfStream, io.EOF)
		}
		return FrameHeader{}, fmt.Errorf("failed to read first 2 essential bytes of the frame: [%w]", endOfStream(err))
	}
	b0, b1 := fixed[0], fixed[1]

	if b0&bitsRSV != 0 {
		return FrameHeader{}, fmt.Errorf("%w: RSV bits must be 0 as extensions are not supported, received %08b", ErrProtocol, b0)
	}

	f := FrameHeader{
		IsFinalFrame: b0&bitFIN == bitFIN,
		Opcode:       Opcode(b0 & bitsOp),
		IsMasked:     b1&bitMask == bitMask,
	}

	f.PayloadLength, err = ReadPayloadLength(r, b1)
	if err != nil {
		return FrameHeader{}, err
	}

	if f.IsMasked {
		if err := readFull(r, f.MaskingKey[:]); err != nil {
			return FrameHeader{}, fmt.Errorf("mask bit signaled that next 32 bits must have masking key, but failed to read them: [%w]", err)
		}
	}

	return f, nil
}

// readFull treats any EOF as the peer going away mid-frame.
func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if err != nil {
		return endOfStream(err)
	}
	return nil
}

func endOfStream(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: [%w]", ErrEndOfStream, io.ErrUnexpectedEOF)
	}
	return err
}

// ReadPayload reads exactly n payload bytes and unmasks them when key is not nil.
// The buffer grows with the bytes that arrive, never with the announced length.
func ReadPayload(r io.Reader, n uint64, key *[4]byte) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if n > MaxPayloadLength {
		return nil, fmt.Errorf("%w: payload length %d too large to buffer", ErrProtocol, n)
	}

	var buf bytes.Buffer
	if n <= payloadPreallocLimit {
		buf.Grow(int(n))
	}

	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes of frame data: [%w]", n, endOfStream(err))
	}

	payload := buf.Bytes()
	if key != nil {
		Mask(payload, *key)
	}

	return payload, nil
}
