package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type CloseCode uint16

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

var (
	// Codes that may appear on the wire. 1005, 1006 and 1015 are reserved
	// for reporting and must never be sent.
	validCloseCodes []CloseCode = []CloseCode{
		CloseNormalClosure,
		CloseGoingAway,
		CloseProtocolError,
		CloseUnsupportedData,
		CloseInvalidFramePayloadData,
		ClosePolicyViolation,
		CloseMessageTooBig,
		CloseMandatoryExtension,
		CloseInternalServerErr,
		CloseServiceRestart,
		CloseTryAgainLater,
	}
)

func (c CloseCode) U() uint16 {
	return uint16(c)
}

func NewCloseCode(code uint16) (c CloseCode, ok bool) {
	c = CloseCode(code)
	ok = c.IsValid()
	return
}

func (c CloseCode) IsValid() bool {
	defined := slices.Contains(validCloseCodes, c)
	range3k4k := c >= 3000 && c <= 4999
	return defined || range3k4k
}

func CloseMessageData(code CloseCode, message string) []byte {
	b := make([]byte, 2, 2+len(message))
	binary.BigEndian.PutUint16(b, code.U())
	return append(b, message...)
}

// CloseCode returns the status code of a close frame. ok is false when the
// peer sent none, in which case CloseNoStatusReceived is returned.
func (f ControlFrame) CloseCode() (code CloseCode, ok bool) {
	if f.Type != CloseMessage || len(f.Payload) < 2 {
		return CloseNoStatusReceived, false
	}
	return CloseCode(binary.BigEndian.Uint16(f.Payload)), true
}

func (f ControlFrame) CloseReason() string {
	if f.Type != CloseMessage || len(f.Payload) <= 2 {
		return ""
	}
	return string(f.Payload[2:])
}

func validateClosePayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) == 1 {
		return fmt.Errorf("%w: close frame must either have 0 or 2+ payload length, but received 1", ErrProtocol)
	}

	code := binary.BigEndian.Uint16(payload)
	if _, ok := NewCloseCode(code); !ok {
		return fmt.Errorf("%w: received invalid close code: %d", ErrProtocol, code)
	}
	if !utf8.Valid(payload[2:]) {
		return fmt.Errorf("%w: close frame reason must be valid UTF-8", ErrEncoding)
	}
	return nil
}

// Close sends a normal closure frame, best effort, and closes the underlying
// connection if the session owns it. It does not wait for the peer's close
// frame.
func (s *Session) Close() error {
	return s.CloseWithCode(CloseNormalClosure, "")
}

func (s *Session) CloseWithCode(code CloseCode, reason string) error {
	err := ErrClosed

	s.closeOnce.Do(func() {
		s.l.Debug("closing websocket session", zap.Uint16("code", code.U()))

		err = s.writeClose(context.Background(), code, reason)
		if errors.Is(err, ErrClosed) {
			err = nil
		}
		if err != nil {
			s.l.Debug("failed to send close frame", zap.Error(err))
		}

		if s.closer != nil {
			err = multierr.Append(err, s.closer.Close())
		}
	})

	return err
}

func (s *Session) writeClose(ctx context.Context, code CloseCode, reason string) error {
	return s.writeControl(ctx, CloseMessage, CloseMessageData(code, reason))
}

// fatal latches err as the session error and tells the peer why, best effort.
// The returned error always matches err with errors.Is.
func (s *Session) fatal(code CloseCode, err error) error {
	s.l.Debug("session fatal error, closing session", zap.Error(err), zap.Uint16("code", code.U()))
	s.setErr(err)

	closeErr := s.writeClose(context.Background(), code, "")
	if closeErr != nil {
		s.l.Debug("failed to send close frame after fatal error", zap.Error(closeErr))
	}

	return err
}
