package internal

import (
	"bytes"
	"errors"
	"testing"
)

func TestPayloadLengthTypeOf(t *testing.T) {
	cases := []struct {
		l        uint64
		expected PayloadLengthType
		encoded  []byte
	}{
		{0, PayloadLengthTypeShort, []byte{0x00}},
		{1, PayloadLengthTypeShort, []byte{0x01}},
		{125, PayloadLengthTypeShort, []byte{0x7D}},
		{126, PayloadLengthTypeMedium, []byte{0x7E, 0x00, 0x7E}},
		{127, PayloadLengthTypeMedium, []byte{0x7E, 0x00, 0x7F}},
		{65535, PayloadLengthTypeMedium, []byte{0x7E, 0xFF, 0xFF}},
		{65536, PayloadLengthTypeHigh, []byte{0x7F, 0, 0, 0, 0, 0, 0x01, 0x00, 0x00}},
	}

	for _, c := range cases {
		actual := PayloadLengthTypeOf(c.l)
		if actual != c.expected {
			t.Errorf("PayloadLengthTypeOf(%d) = %d, ERROR expected %d", c.l, actual, c.expected)
		}

		encoded := AppendPayloadLength(nil, 0, c.l)
		if !bytes.Equal(encoded, c.encoded) {
			t.Errorf("AppendPayloadLength(%d) = %v, ERROR expected %v", c.l, encoded, c.encoded)
		} else {
			t.Logf("AppendPayloadLength(%d) = %v, OK", c.l, encoded)
		}

		decoded, err := ReadPayloadLength(bytes.NewReader(encoded[1:]), encoded[0])
		if err != nil {
			t.Fatalf("ReadPayloadLength(%v), ERROR returned unexpected error %q", encoded, err)
		}
		if decoded != c.l {
			t.Errorf("ReadPayloadLength(%v) = %d, ERROR expected %d", encoded, decoded, c.l)
		}
	}
}

func TestAppendPayloadLengthKeepsMaskBit(t *testing.T) {
	encoded := AppendPayloadLength(nil, bitMask, 126)
	if encoded[0] != 0xFE {
		t.Errorf("AppendPayloadLength(mask, 126)[0] = %X, ERROR expected FE", encoded[0])
	}
}

func TestReadPayloadLengthRejectsMSB(t *testing.T) {
	ext := []byte{0x80, 0, 0, 0, 0, 0, 0, 0x01}
	_, err := ReadPayloadLength(bytes.NewReader(ext), 0x7F)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ReadPayloadLength(%v) error = %v, ERROR expected %v", ext, err, ErrProtocol)
	}
}
