package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wmdanor/wsession/internal"
)

// bounds the memory used by SendStream
const streamCopyBufSize = 32 * 1024

func (s *Session) SendText(ctx context.Context, message string) error {
	return s.writeFrame(ctx, internal.OpcodeTextFrame, []byte(message))
}

func (s *Session) SendBinary(ctx context.Context, data []byte) error {
	return s.writeFrame(ctx, internal.OpcodeBinaryFrame, data)
}

// SendStream sends size bytes read from r as one binary frame, masking them
// while copying. A negative size is resolved from r, which then has to have
// a Len() int method or be an io.Seeker.
func (s *Session) SendStream(ctx context.Context, r io.Reader, size int64) error {
	if size < 0 {
		var err error
		size, err = streamLength(r)
		if err != nil {
			return err
		}
	}

	f, err := internal.NewFrameHeader(internal.OpcodeBinaryFrame, uint64(size), s.masking.Load(), s.rand)
	if err != nil {
		return fmt.Errorf("failed to build frame header: [%w]", err)
	}

	h, err := s.out.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	if s.sentClose {
		return ErrClosed
	}
	if err := s.Err(); err != nil {
		return err
	}

	dest := h.Value()

	s.l.Debug("writing stream frame", zap.Int64("len", size), zap.Bool("masked", f.IsMasked))

	_, err = dest.Write(f.AppendTo(make([]byte, 0, f.Size())))
	if err != nil {
		return s.brokenStream(fmt.Errorf("failed to write frame header: [%w]", err))
	}

	var body io.Writer = dest
	if f.IsMasked {
		body = internal.NewMaskingWriter(dest, f.MaskingKey, streamCopyBufSize)
	}

	n, err := io.CopyBuffer(body, io.LimitReader(r, size), make([]byte, streamCopyBufSize))
	if err != nil {
		return s.brokenStream(fmt.Errorf("failed to copy stream into frame: [%w]", err))
	}
	if n != size {
		return s.brokenStream(fmt.Errorf("source stream ended after %d of %d bytes: [%w]", n, size, io.ErrUnexpectedEOF))
	}

	return nil
}

func streamLength(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len()), nil
	case io.Seeker:
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, fmt.Errorf("%w: [%w]", ErrUnknownLength, err)
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("%w: [%w]", ErrUnknownLength, err)
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, fmt.Errorf("%w: [%w]", ErrUnknownLength, err)
		}
		return end - cur, nil
	}
	return 0, ErrUnknownLength
}

func (s *Session) writeControl(ctx context.Context, messageType MessageType, data []byte) error {
	if !messageType.IsControl() {
		return fmt.Errorf("message type must be close, ping or pong, received %v", messageType)
	}
	if len(data) > maxControlPayloadLength {
		return fmt.Errorf("%w: received %d bytes", ErrControlTooLarge, len(data))
	}

	return s.writeFrame(ctx, internal.Opcode(messageType), data)
}

// writeFrame sends one final frame. The header and the (masked copy of the)
// payload go out in a single write under the send lock.
func (s *Session) writeFrame(ctx context.Context, opcode internal.Opcode, data []byte) error {
	f, err := internal.NewFrameHeader(opcode, uint64(len(data)), s.masking.Load(), s.rand)
	if err != nil {
		return fmt.Errorf("failed to build frame header: [%w]", err)
	}

	buf := make([]byte, 0, f.Size()+len(data))
	buf = f.AppendTo(buf)
	start := len(buf)
	buf = append(buf, data...)
	if f.IsMasked {
		internal.Mask(buf[start:], f.MaskingKey)
	}

	h, err := s.out.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	// nothing may follow a close frame
	if s.sentClose {
		return ErrClosed
	}
	if opcode == internal.OpcodeConnectionClose {
		s.sentClose = true
	} else if err := s.Err(); err != nil {
		// only the close frame may still go out on a broken session
		return err
	}

	s.l.Debug("writing frame",
		zap.Stringer("opcode", opcode),
		zap.Int("len", len(data)),
		zap.Bool("masked", f.IsMasked))

	_, err = h.Value().Write(buf)
	if err != nil {
		return s.brokenStream(fmt.Errorf("failed to write %v frame: [%w]", opcode, err))
	}

	return nil
}

// brokenStream latches an I/O failure that left a frame half written or
// half read.
func (s *Session) brokenStream(err error) error {
	s.l.Debug("stream broken", zap.Error(err))
	if !errors.Is(err, ErrCancelled) {
		s.setErr(err)
	}
	return err
}
