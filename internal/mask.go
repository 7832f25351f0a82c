package internal

import "io"

const defaultMaskingBufSize = 4096

func Mask(bytes []byte, key [4]byte) {
	MaskOffset(bytes, key, 0)
}

func MaskOffset(bytes []byte, key [4]byte, offset int) {
	for i, b := range bytes {
		pos := i + offset
		masked := b ^ key[pos%4]
		bytes[i] = masked
	}
}

// Masker applies the XOR transform of one frame incrementally, carrying the
// key position between calls. A fresh Masker is needed for every frame.
type Masker struct {
	key    [4]byte
	offset int
}

func NewMasker(key [4]byte) *Masker {
	return &Masker{key: key}
}

func (m *Masker) Apply(b []byte) {
	MaskOffset(b, m.key, m.offset)
	m.offset = (m.offset + len(b)) % 4
}

// MaskingWriter masks everything written through it without touching the
// caller's slice.
type MaskingWriter struct {
	w       io.Writer
	m       *Masker
	scratch []byte
}

func NewMaskingWriter(w io.Writer, key [4]byte, bufSize int) *MaskingWriter {
	if bufSize <= 0 {
		bufSize = defaultMaskingBufSize
	}
	return &MaskingWriter{
		w:       w,
		m:       NewMasker(key),
		scratch: make([]byte, bufSize),
	}
}

func (mw *MaskingWriter) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		chunk := copy(mw.scratch, p)
		mw.m.Apply(mw.scratch[:chunk])

		nn, err := mw.w.Write(mw.scratch[:chunk])
		n += nn
		if err != nil {
			return n, err
		}
		p = p[chunk:]
	}
	return n, nil
}
