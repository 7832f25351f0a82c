package websocket

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wmdanor/wsession/internal/lock"
)

const pingPayloadSize = 16

// Ping sends a ping with a random payload and waits for the matching pong.
//
// If another goroutine is receiving, the pong reaches Ping through the
// control frame listeners and Ping never reads from the stream. Otherwise
// Ping takes the receive side itself and reads control frames until the pong
// arrives; any data frame in its place is a protocol error.
//
// ctx bounds the wait for either of those. Reads already in progress are
// not interrupted by ctx.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.Err(); err != nil {
		return err
	}

	payload := make([]byte, pingPayloadSize)
	if _, err := io.ReadFull(s.rand, payload); err != nil {
		return fmt.Errorf("failed to generate ping payload: [%w]", err)
	}

	pong := make(chan struct{})
	var once sync.Once
	token := s.addControlListener(func(f ControlFrame) {
		if f.Type == PongMessage && bytes.Equal(f.Payload, payload) {
			once.Do(func() { close(pong) })
		}
	})
	defer s.removeControlListener(token)

	if err := s.writeControl(ctx, PingMessage, payload); err != nil {
		return fmt.Errorf("failed to send ping: [%w]", err)
	}

	pending := s.in.TryAcquireCancelable()

	select {
	case <-pong:
		pending.Cancel()
		s.l.Debug("pong delivered by concurrent reader")
		return nil
	case <-ctx.Done():
		pending.Cancel()
		return fmt.Errorf("%w: waiting for pong: [%w]", ErrCancelled, ctx.Err())
	case <-pending.Ready():
	}

	h, err := pending.Wait(ctx)
	if err != nil {
		return err
	}

	s.l.Debug("reading pong")
	return s.awaitPong(h, pong)
}

// awaitPong reads control frames until pong is closed. It always gives up h.
func (s *Session) awaitPong(h *lock.Holder[*bufio.Reader], pong <-chan struct{}) error {
	for {
		select {
		case <-pong:
			h.Release()
			return nil
		default:
		}

		msg, err := s.readFrameGroup(h, false)
		if err != nil {
			h.Release()
			return err
		}

		switch msg.Type {
		case PingMessage, PongMessage:
			continue
		case CloseMessage:
			h.Release()
			return fmt.Errorf("%w: peer sent close frame before pong", ErrClosed)
		}

		s.l.Debug("received data frame while waiting for pong", zap.Stringer("type", msg.Type))
		err = s.fatal(CloseProtocolError,
			fmt.Errorf("%w: pinged and peer sent a %v frame instead of pong", ErrProtocol, msg.Type))

		// abandon the message without draining it
		if body, ok := msg.Body.(*messageReader); ok {
			body.finish(err)
		} else {
			h.Release()
		}
		return err
	}
}
