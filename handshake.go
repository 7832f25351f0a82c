package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Opening handshake headers, RFC 6455 section 4.
const (
	headerUpgrade      = "Upgrade"
	headerConn         = "Connection"
	headerSecWsVersion = "Sec-WebSocket-Version"
	headerSecWsProto   = "Sec-WebSocket-Protocol"
	headerSecWsExt     = "Sec-WebSocket-Extensions"
	headerSecWsKey     = "Sec-WebSocket-Key"
	headerSecWsAccept  = "Sec-WebSocket-Accept"

	upgradeToken     = "websocket"
	connectionToken  = "Upgrade"
	supportedVersion = "13"

	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	secWsKeyNonceSize = 16
)

var (
	ErrHandshakeFailure        = errors.New("handshake failure")
	ErrInvalidHandshakeRequest = errors.New("invalid handshake request")
)

// clientKey is a fresh base64 nonce for Sec-WebSocket-Key.
func clientKey(random io.Reader) (string, error) {
	var nonce [secWsKeyNonceSize]byte
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate %s nonce: [%w]", headerSecWsKey, err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// acceptKey is the Sec-WebSocket-Accept value answering key.
func acceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// headerHasToken matches token case-insensitively against the comma separated
// values of header, e.g. "Connection: keep-alive, Upgrade".
func headerHasToken(h http.Header, header, token string) bool {
	for _, value := range h.Values(header) {
		for _, t := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

func headerValue(h http.Header, header string) string {
	return strings.Join(h.Values(header), ", ")
}
