package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wmdanor/wsession/internal"
)

const maxControlPayloadLength = 125

// ControlFrame is a received Close, Ping or Pong frame.
type ControlFrame struct {
	Type    MessageType
	Payload []byte
}

type ControlFrameEvent struct {
	Frame ControlFrame
	// Set by a handler to skip the automatic pong (for pings) or the close
	// echo (for close frames).
	SuppressAutoResponse bool
}

// ControlFrameHandler is called synchronously by whichever goroutine is
// reading frames, while that goroutine holds the receive side of the
// session. It must not block for long and must not call any Receive method
// or Ping on the same session, which would deadlock. Sending is fine.
type ControlFrameHandler func(s *Session, e *ControlFrameEvent)

// SetControlFrameHandler replaces the handler; nil removes it.
func (s *Session) SetControlFrameHandler(h ControlFrameHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handleControl = h
}

// addControlListener registers a callback that sees every control frame
// before the handler. The returned token must be passed to
// removeControlListener.
func (s *Session) addControlListener(fn func(ControlFrame)) uint64 {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.nextListener++
	s.listeners[s.nextListener] = fn
	return s.nextListener
}

func (s *Session) removeControlListener(token uint64) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	delete(s.listeners, token)
}

// readControlFrame reads the payload of a control frame whose header was
// just decoded and dispatches it. The caller holds the receive lock.
func (s *Session) readControlFrame(r *bufio.Reader, f internal.FrameHeader) error {
	if !f.IsFinalFrame {
		return s.fatal(CloseProtocolError,
			fmt.Errorf("%w: control frames must not be fragmented", ErrProtocol))
	}
	if f.PayloadLength > maxControlPayloadLength {
		return s.fatal(CloseProtocolError,
			fmt.Errorf("%w: control frame payload length %d exceeds %d", ErrProtocol, f.PayloadLength, maxControlPayloadLength))
	}

	payload, err := s.readPayload(r, f)
	if err != nil {
		return err
	}

	frame := ControlFrame{Type: MessageType(f.Opcode), Payload: payload}

	if frame.Type == CloseMessage {
		s.recvClose.Store(true)
		if err := validateClosePayload(payload); err != nil {
			if errors.Is(err, ErrEncoding) {
				return s.fatal(CloseInvalidFramePayloadData, err)
			}
			return s.fatal(CloseProtocolError, err)
		}
	}

	return s.handleControlFrame(frame)
}

func (s *Session) handleControlFrame(frame ControlFrame) error {
	s.l.Debug("received control frame", zap.Stringer("type", frame.Type), zap.Int("len", len(frame.Payload)))

	e := &ControlFrameEvent{Frame: frame}

	s.handlerMu.RLock()
	listeners := make([]func(ControlFrame), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	h := s.handleControl
	s.handlerMu.RUnlock()

	for _, fn := range listeners {
		fn(frame)
	}
	if h != nil {
		h(s, e)
	}

	if e.SuppressAutoResponse {
		s.l.Debug("automatic response suppressed by handler", zap.Stringer("type", frame.Type))
		return nil
	}

	var err error
	switch frame.Type {
	case PingMessage:
		if !s.autoPong.Load() {
			return nil
		}
		s.l.Debug("answering ping")
		err = s.writeControl(context.Background(), PongMessage, frame.Payload)
	case CloseMessage:
		var payload []byte
		if code, ok := frame.CloseCode(); ok {
			payload = CloseMessageData(code, "")
		}
		s.l.Debug("echoing close frame")
		err = s.writeControl(context.Background(), CloseMessage, payload)
	}

	if errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to respond to %v frame: [%w]", frame.Type, err)
	}
	return nil
}
