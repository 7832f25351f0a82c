package websocket

import (
	"fmt"
	"io"

	"github.com/wmdanor/wsession/internal"
)

type MessageType uint8

const (
	// Non-control
	TextMessage   MessageType = MessageType(internal.OpcodeTextFrame)
	BinaryMessage MessageType = MessageType(internal.OpcodeBinaryFrame)

	// Control
	CloseMessage MessageType = MessageType(internal.OpcodeConnectionClose)
	PingMessage  MessageType = MessageType(internal.OpcodePing)
	PongMessage  MessageType = MessageType(internal.OpcodePong)
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	case CloseMessage:
		return "close"
	case PingMessage:
		return "ping"
	case PongMessage:
		return "pong"
	case 0:
		return "fragment"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

func (t MessageType) IsControl() bool {
	return internal.Opcode(t).IsControl()
}

// Message is one received message. Text is set for TextMessage, Body for
// BinaryMessage. Body holds the receive side of the session until it is
// drained or closed.
type Message struct {
	Type MessageType
	Text string
	Body io.ReadCloser
}
