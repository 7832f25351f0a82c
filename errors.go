package websocket

import (
	"errors"

	"github.com/wmdanor/wsession/internal"
	"github.com/wmdanor/wsession/internal/lock"
)

var (
	// Malformed header, RSV bits set, fragmented or oversized control frame,
	// mixed fragment types, unknown opcode, or an unexpected reply to a ping.
	// Fatal to the session.
	ErrProtocol = internal.ErrProtocol
	// Text message that is not valid UTF-8. The message is discarded and the
	// session stays usable.
	ErrEncoding = errors.New("invalid UTF-8 in text message")
	// Peer closed the byte stream. Distinct from ErrProtocol.
	ErrEndOfStream = internal.ErrEndOfStream
	// A lock holder was released by a non-holder. Indicates a bug.
	ErrLockInvariant = lock.ErrInvariant
	// Context cancelled or timed out before the operation could complete.
	// Always safe to retry.
	ErrCancelled = lock.ErrCancelled

	ErrUnexpectedMessageType = errors.New("unexpected message type")
	ErrControlTooLarge       = errors.New("control frame payload must not exceed 125 bytes")
	ErrUnknownLength         = errors.New("stream length cannot be determined")
	ErrClosed                = errors.New("session is closed")
)
