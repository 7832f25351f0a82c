package websocket

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Upgrader turns HTTP requests into server side sessions.
type Upgrader struct {
	DisableAutoPong bool

	// See Config.MaxMessageSize.
	MaxMessageSize int64

	// Defaults to crypto/rand.Reader.
	Random io.Reader

	InternalLogger *zap.Logger
}

// Upgrade validates the opening handshake and takes over the connection.
// When the request is rejected the connection is left untouched, so the
// handler can still write an error response.
//
// The returned session owns the connection: Session.Close closes it.
func (u *Upgrader) Upgrade(w http.ResponseWriter, req *http.Request) (*Session, error) {
	l := u.InternalLogger
	if l == nil {
		l = newInternalLogger()
	}

	l.Debug("Opening new websocket connection", zap.String("path", req.URL.Path))

	secWsAccept, err := checkOpenHandshake(req, l)
	if err != nil {
		l.Debug("Failed to open websocket connection", zap.Error(err))
		return nil, err
	}

	netConn, rw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		l.Debug("Failed to open websocket connection: couldn't hijack TCP connection", zap.Error(err))
		return nil, fmt.Errorf("failed to hijack net.Conn: [%w]", err)
	}

	_, err = fmt.Fprintf(rw.Writer, "HTTP/1.1 101 Switching Protocols\r\n%s: %s\r\n%s: %s\r\n%s: %s\r\n\r\n",
		headerUpgrade, upgradeToken,
		headerConn, connectionToken,
		headerSecWsAccept, secWsAccept)
	if err == nil {
		err = rw.Writer.Flush()
	}
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("%w: failed to write response: [%w]", ErrHandshakeFailure, err)
	}

	l.Debug("New websocket connection opened")

	return newSession(rw.Reader, netConn, netConn, &Config{
		DisableAutoPong: u.DisableAutoPong,
		MaxMessageSize:  u.MaxMessageSize,
		RequestPath:     req.URL.Path,
		RemoteAddr:      netConn.RemoteAddr(),
		Random:          u.Random,
		Logger:          l,
	}), nil
}

func checkOpenHandshake(req *http.Request, l *zap.Logger) (string, error) {
	l.Debug("Handling opening handshake")

	if req.Method != http.MethodGet {
		return "", fmt.Errorf("%w: method must be GET, actual %q",
			ErrInvalidHandshakeRequest, req.Method)
	}

	if !headerHasToken(req.Header, headerUpgrade, upgradeToken) {
		return "", fmt.Errorf(`%w: %q header must contain %q, actual %q`,
			ErrInvalidHandshakeRequest, headerUpgrade, upgradeToken, headerValue(req.Header, headerUpgrade))
	}

	if !headerHasToken(req.Header, headerConn, connectionToken) {
		return "", fmt.Errorf(`%w: %q header must contain %q, actual %q`,
			ErrInvalidHandshakeRequest, headerConn, connectionToken, headerValue(req.Header, headerConn))
	}

	if v := req.Header.Get(headerSecWsVersion); v != supportedVersion {
		return "", fmt.Errorf(`%w: %q header must be %q, actual %q`,
			ErrInvalidHandshakeRequest, headerSecWsVersion, supportedVersion, v)
	}

	if secWsProto := req.Header.Get(headerSecWsProto); secWsProto != "" {
		l.Debug("Subprotocols are not supported, ignoring header",
			zap.String("header", headerSecWsProto), zap.String("value", secWsProto))
	}

	// no extensions are negotiated, so peers may not set RSV bits
	if secWsExt := req.Header.Get(headerSecWsExt); secWsExt != "" {
		l.Debug("Extensions are not supported, ignoring header",
			zap.String("header", headerSecWsExt), zap.String("value", secWsExt))
	}

	secWsKey := req.Header.Get(headerSecWsKey)
	if len(secWsKey) == 0 {
		return "", fmt.Errorf("%w: missing %q header", ErrInvalidHandshakeRequest, headerSecWsKey)
	}
	decoded, err := base64.StdEncoding.DecodeString(secWsKey)
	if err != nil {
		return "", fmt.Errorf("%w: failed to base64 decode %q header: [%w]",
			ErrInvalidHandshakeRequest, headerSecWsKey, err)
	}
	if len(decoded) != secWsKeyNonceSize {
		return "", fmt.Errorf("%w: decoded value of %q must be %d bytes, received %d bytes",
			ErrInvalidHandshakeRequest, headerSecWsKey, secWsKeyNonceSize, len(decoded))
	}

	return acceptKey(secWsKey), nil
}
