package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dialer opens client side sessions. Client sessions mask every frame they
// send. Only plain ws:// URLs are supported.
type Dialer struct {
	Subprotocols []string

	DisableAutoPong bool

	// Defaults to crypto/rand.Reader.
	Random io.Reader

	InternalLogger *zap.Logger
}

func (d *Dialer) Dial(urlStr string, headers map[string]string) (*Session, error) {
	return d.DialContext(context.Background(), urlStr, headers)
}

// DialContext bounds the TCP dial and the opening handshake by ctx.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, headers map[string]string) (*Session, error) {
	l := d.InternalLogger
	if l == nil {
		l = newInternalLogger()
	}

	random := d.Random
	if random == nil {
		random = rand.Reader
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse url: [%w]", ErrHandshakeFailure, err)
	}

	if u.Scheme != "ws" {
		return nil, fmt.Errorf("%w: url schema must be ws, actual %q", ErrHandshakeFailure, u.Scheme)
	}
	u.Scheme = "http"

	dialAddr := u.Host
	if u.Port() == "" {
		dialAddr = net.JoinHostPort(u.Hostname(), "80")
	}

	l.Debug("dialing websocket server", zap.String("addr", dialAddr))

	var nd net.Dialer
	netConn, err := nd.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial remote address %q: [%w]", dialAddr, err)
	}
	defer func() {
		if netConn != nil {
			_ = netConn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := netConn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set handshake deadline: [%w]", err)
		}
	}

	req := http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       u.Host,
		Header:     make(http.Header),
	}

	for hk, hv := range headers {
		req.Header[hk] = []string{hv}
	}

	req.Header[headerUpgrade] = []string{upgradeToken}
	req.Header[headerConn] = []string{connectionToken}
	req.Header[headerSecWsVersion] = []string{supportedVersion}

	if len(d.Subprotocols) > 0 {
		secWsProto := strings.Join(d.Subprotocols, ", ")
		req.Header[headerSecWsProto] = []string{secWsProto}
	}

	secWsKey, err := clientKey(random)
	if err != nil {
		return nil, fmt.Errorf("%w: [%w]", ErrHandshakeFailure, err)
	}
	expectedSecWsAccept := acceptKey(secWsKey)

	req.Header[headerSecWsKey] = []string{secWsKey}

	err = req.Write(netConn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write request: [%w]", ErrHandshakeFailure, err)
	}

	bufReader := bufio.NewReaderSize(netConn, 4096)

	res, err := http.ReadResponse(bufReader, &req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: [%w]", ErrHandshakeFailure, err)
	}
	res.Body = io.NopCloser(bytes.NewReader([]byte{}))

	if res.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf(`%w: status code must be %d , actual %d`,
			ErrHandshakeFailure, http.StatusSwitchingProtocols, res.StatusCode)
	}

	if !headerHasToken(res.Header, headerUpgrade, upgradeToken) {
		return nil, fmt.Errorf(`%w: %q header must contain %q, actual %q`,
			ErrHandshakeFailure, headerUpgrade, upgradeToken, headerValue(res.Header, headerUpgrade))
	}

	if !headerHasToken(res.Header, headerConn, connectionToken) {
		return nil, fmt.Errorf(`%w: %q header must contain %q, actual %q`,
			ErrHandshakeFailure, headerConn, connectionToken, headerValue(res.Header, headerConn))
	}

	secWsAccept := res.Header.Get(headerSecWsAccept)
	if len(secWsAccept) == 0 {
		return nil, fmt.Errorf("%w: missing %q header", ErrHandshakeFailure, headerSecWsAccept)
	} else if secWsAccept != expectedSecWsAccept {
		return nil, fmt.Errorf("%w: %q header does not equal expected value", ErrHandshakeFailure, headerSecWsAccept)
	}

	if err := netConn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to clear handshake deadline: [%w]", err)
	}

	s := newSession(bufReader, netConn, netConn, &Config{
		Masking:         true,
		DisableAutoPong: d.DisableAutoPong,
		RequestPath:     u.Path,
		RemoteAddr:      netConn.RemoteAddr(),
		Random:          random,
		Logger:          l,
	})

	netConn = nil

	return s, nil
}
