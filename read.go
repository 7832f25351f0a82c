package websocket

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wmdanor/wsession/internal"
	"github.com/wmdanor/wsession/internal/lock"
)

// ReceiveText waits for the next message, which must be text.
func (s *Session) ReceiveText(ctx context.Context) (string, error) {
	msg, err := s.ReceiveAny(ctx)
	if err != nil {
		return "", err
	}
	if msg.Type != TextMessage {
		return "", s.unexpected(msg, TextMessage)
	}
	return msg.Text, nil
}

// ReceiveBinary waits for the next message, which must be binary. No other
// message can be received until the returned body is drained or closed.
func (s *Session) ReceiveBinary(ctx context.Context) (io.ReadCloser, error) {
	msg, err := s.ReceiveAny(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != BinaryMessage {
		return nil, s.unexpected(msg, BinaryMessage)
	}
	return msg.Body, nil
}

// ReceiveAny waits for the next text or binary message. Pings and pongs seen
// on the way are handled and do not end the wait; the peer's close frame is
// answered and ends it with ErrClosed.
func (s *Session) ReceiveAny(ctx context.Context) (Message, error) {
	if err := s.Err(); err != nil {
		return Message{}, err
	}
	// nothing may follow the peer's close frame
	if s.recvClose.Load() {
		return Message{}, fmt.Errorf("%w: peer sent close frame", ErrClosed)
	}

	h, err := s.in.Acquire(ctx)
	if err != nil {
		return Message{}, err
	}

	msg, err := s.readFrameGroup(h, true)
	if msg.Body == nil {
		h.Release()
	}
	return msg, err
}

// unexpected discards msg. The message is consumed either way.
func (s *Session) unexpected(msg Message, wanted MessageType) error {
	if msg.Body != nil {
		if err := msg.Body.Close(); err != nil {
			return fmt.Errorf("%w: wanted %v, received %v, and failed to discard it: [%w]",
				ErrUnexpectedMessageType, wanted, msg.Type, err)
		}
	}
	return fmt.Errorf("%w: wanted %v, received %v", ErrUnexpectedMessageType, wanted, msg.Type)
}

// readFrameGroup reads frames until one message is complete. For a binary
// message, ownership of h moves into the returned Body; otherwise the caller
// keeps it.
//
// With loop unset it returns after the first frame that does not complete a
// message. Type is then the control frame's type, or 0 for a text fragment.
func (s *Session) readFrameGroup(h *lock.Holder[*bufio.Reader], loop bool) (Message, error) {
	r := h.Value()
	var fragments [][]byte
	var size uint64

	for {
		f, err := s.readFrameHeader(r)
		if err != nil {
			return Message{}, err
		}

		switch f.Opcode {
		case internal.OpcodeBinaryFrame:
			if fragments != nil {
				return Message{}, s.fatal(CloseProtocolError,
					fmt.Errorf("%w: binary frame received while text message is incomplete", ErrProtocol))
			}
			if err := s.checkMessageSize(f.PayloadLength); err != nil {
				return Message{}, err
			}
			return Message{Type: BinaryMessage, Body: newMessageReader(s, h, f)}, nil

		case internal.OpcodeTextFrame, internal.OpcodeContinuationFrame:
			if f.Opcode == internal.OpcodeTextFrame && fragments != nil {
				return Message{}, s.fatal(CloseProtocolError,
					fmt.Errorf("%w: text frame received while text message is incomplete", ErrProtocol))
			}
			if f.Opcode == internal.OpcodeContinuationFrame && fragments == nil {
				return Message{}, s.fatal(CloseProtocolError,
					fmt.Errorf("%w: continuation frame received with no message to continue", ErrProtocol))
			}

			size += f.PayloadLength
			if err := s.checkMessageSize(size); err != nil {
				return Message{}, err
			}

			payload, err := s.readPayload(r, f)
			if err != nil {
				return Message{}, err
			}
			fragments = append(fragments, payload)

			if f.IsFinalFrame {
				text := bytes.Join(fragments, nil)
				// the whole message is consumed, so only this receive fails
				if !utf8.Valid(text) {
					s.l.Debug("discarding text message with invalid UTF-8", zap.Int("len", len(text)))
					return Message{}, fmt.Errorf("%w: %d bytes in %d fragments", ErrEncoding, len(text), len(fragments))
				}
				return Message{Type: TextMessage, Text: string(text)}, nil
			}

			if !loop {
				return Message{}, nil
			}

		case internal.OpcodeConnectionClose, internal.OpcodePing, internal.OpcodePong:
			if err := s.readControlFrame(r, f); err != nil {
				return Message{}, err
			}

			if !loop {
				return Message{Type: MessageType(f.Opcode)}, nil
			}
			if f.Opcode == internal.OpcodeConnectionClose {
				return Message{}, fmt.Errorf("%w: peer sent close frame", ErrClosed)
			}

		default:
			return Message{}, s.fatal(CloseProtocolError,
				fmt.Errorf("%w: unknown opcode %v", ErrProtocol, f.Opcode))
		}
	}
}

// checkMessageSize fails once a message announces more than the configured
// maximum, before any of it is buffered.
func (s *Session) checkMessageSize(size uint64) error {
	if s.maxMessageSize <= 0 || size <= uint64(s.maxMessageSize) {
		return nil
	}
	return s.fatal(CloseMessageTooBig,
		fmt.Errorf("%w: message of at least %d bytes exceeds limit of %d", ErrProtocol, size, s.maxMessageSize))
}

func (s *Session) readFrameHeader(r io.Reader) (internal.FrameHeader, error) {
	f, err := internal.ReadFrameHeader(r)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			return f, s.fatal(CloseProtocolError, err)
		}
		return f, s.brokenStream(fmt.Errorf("failed to read frame header: [%w]", err))
	}

	s.l.Debug("read frame header",
		zap.Stringer("opcode", f.Opcode),
		zap.Bool("fin", f.IsFinalFrame),
		zap.Bool("masked", f.IsMasked),
		zap.Uint64("len", f.PayloadLength))

	return f, nil
}

func (s *Session) readPayload(r io.Reader, f internal.FrameHeader) ([]byte, error) {
	var key *[4]byte
	if f.IsMasked {
		key = &f.MaskingKey
	}

	payload, err := internal.ReadPayload(r, f.PayloadLength, key)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			return nil, s.fatal(CloseMessageTooBig, err)
		}
		return nil, s.brokenStream(err)
	}
	return payload, nil
}

// messageReader streams the payload of one binary message across all of its
// frames. It owns the receive lock until the message ends, fails or is
// closed.
type messageReader struct {
	s *Session
	h *lock.Holder[*bufio.Reader]
	r *bufio.Reader

	isFinal   bool
	remaining uint64
	// announced length of all frames begun so far
	size   uint64
	masker *internal.Masker

	// sticky; io.EOF once the final frame is drained
	err     error
	release sync.Once
}

func newMessageReader(s *Session, h *lock.Holder[*bufio.Reader], f internal.FrameHeader) *messageReader {
	m := &messageReader{
		s: s,
		h: h,
		r: h.Value(),
	}
	m.beginFrame(f)
	return m
}

func (m *messageReader) beginFrame(f internal.FrameHeader) {
	m.isFinal = f.IsFinalFrame
	m.remaining = f.PayloadLength
	m.size += f.PayloadLength
	m.masker = nil
	if f.IsMasked {
		m.masker = internal.NewMasker(f.MaskingKey)
	}
}

func (m *messageReader) Read(p []byte) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}

	for m.remaining == 0 {
		if m.isFinal {
			m.finish(io.EOF)
			return 0, io.EOF
		}
		if err := m.nextFrame(); err != nil {
			m.finish(err)
			return 0, err
		}
	}

	if len(p) == 0 {
		return 0, nil
	}
	if uint64(len(p)) > m.remaining {
		p = p[:m.remaining]
	}

	n, err = m.r.Read(p)
	if m.masker != nil {
		m.masker.Apply(p[:n])
	}
	m.remaining -= uint64(n)

	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: [%w]", ErrEndOfStream, io.ErrUnexpectedEOF)
		}
		err = m.s.brokenStream(fmt.Errorf("failed to read frame data chunk: [%w]", err))
		m.finish(err)
		return n, err
	}

	return n, nil
}

// nextFrame moves on to the next continuation frame, handling any control
// frames interleaved with the fragments.
func (m *messageReader) nextFrame() error {
	for {
		f, err := m.s.readFrameHeader(m.r)
		if err != nil {
			return err
		}

		switch {
		case f.Opcode == internal.OpcodeContinuationFrame:
			if err := m.s.checkMessageSize(m.size + f.PayloadLength); err != nil {
				return err
			}
			m.beginFrame(f)
			return nil
		case f.Opcode.IsControl():
			if err := m.s.readControlFrame(m.r, f); err != nil {
				return err
			}
			if f.Opcode == internal.OpcodeConnectionClose {
				return fmt.Errorf("%w: peer sent close frame in the middle of a binary message", ErrClosed)
			}
		default:
			return m.s.fatal(CloseProtocolError,
				fmt.Errorf("%w: expected continuation frame of binary message, received %v", ErrProtocol, f.Opcode))
		}
	}
}

func (m *messageReader) finish(err error) {
	if m.err == nil {
		m.err = err
	}
	m.release.Do(m.h.Release)
}

// Close discards whatever is left of the message so that the next receive
// starts at a frame boundary, then gives up the receive lock.
func (m *messageReader) Close() error {
	var err error
	if m.err == nil {
		_, err = io.Copy(io.Discard, m)
		if err != nil {
			err = fmt.Errorf("failed to discard remaining message: [%w]", err)
		}
	}
	m.finish(io.EOF)
	return err
}
