package internal

import "errors"

var (
	// Malformed or unsupported framing. Fatal to the connection.
	ErrProtocol = errors.New("protocol error")
	// Peer closed the byte stream, possibly in the middle of a frame.
	ErrEndOfStream = errors.New("end of stream")
)
