package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestAcceptKey(t *testing.T) {
	input := "dGhlIHNhbXBsZSBub25jZQ=="

	actual := acceptKey(input)

	expected := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if actual != expected {
		t.Errorf("acceptKey(%q) = %q, ERROR expected %q", input, actual, expected)
	} else {
		t.Logf("acceptKey(%q) = %q, OK", input, actual)
	}
}

func TestClientKey(t *testing.T) {
	key, err := clientKey(fixedRandom(0))
	if err != nil {
		t.Fatalf("clientKey() failed: %v", err)
	}

	expected := "AAAAAAAAAAAAAAAAAAAAAA=="
	if key != expected {
		t.Errorf("clientKey() = %q, ERROR expected %q", key, expected)
	}
}

func TestHeaderHasToken(t *testing.T) {
	testCases := []struct {
		values []string
		ok     bool
	}{
		{values: []string{"Upgrade"}, ok: true},
		{values: []string{"upgrade"}, ok: true},
		{values: []string{"keep-alive, Upgrade"}, ok: true},
		{values: []string{"keep-alive", "Upgrade"}, ok: true},
		{values: []string{"keep-alive"}, ok: false},
		{values: nil, ok: false},
	}

	for _, tc := range testCases {
		h := http.Header{}
		for _, v := range tc.values {
			h.Add(headerConn, v)
		}

		ok := headerHasToken(h, headerConn, connectionToken)
		if ok != tc.ok {
			t.Errorf("headerHasToken(%q) = %v, ERROR expected %v", tc.values, ok, tc.ok)
		} else {
			t.Logf("headerHasToken(%q) = %v, OK", tc.values, ok)
		}
	}
}

func TestCheckOpenHandshake(t *testing.T) {
	valid := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set(headerUpgrade, "websocket")
		req.Header.Set(headerConn, "keep-alive, Upgrade")
		req.Header.Set(headerSecWsVersion, "13")
		req.Header.Set(headerSecWsKey, "dGhlIHNhbXBsZSBub25jZQ==")
		return req
	}

	testCases := []struct {
		name   string
		modify func(req *http.Request)
		ok     bool
	}{
		{name: "valid", modify: func(req *http.Request) {}, ok: true},
		{name: "post", modify: func(req *http.Request) { req.Method = http.MethodPost }},
		{name: "lowercase tokens", modify: func(req *http.Request) {
			req.Header.Set(headerUpgrade, "WebSocket")
			req.Header.Set(headerConn, "upgrade")
		}, ok: true},
		{name: "no upgrade", modify: func(req *http.Request) { req.Header.Del(headerUpgrade) }},
		{name: "upgrade to h2c", modify: func(req *http.Request) { req.Header.Set(headerUpgrade, "h2c") }},
		{name: "connection close", modify: func(req *http.Request) { req.Header.Set(headerConn, "close") }},
		{name: "version 8", modify: func(req *http.Request) { req.Header.Set(headerSecWsVersion, "8") }},
		{name: "no key", modify: func(req *http.Request) { req.Header.Del(headerSecWsKey) }},
		{name: "key not base64", modify: func(req *http.Request) { req.Header.Set(headerSecWsKey, "not base64!") }},
		{name: "short key", modify: func(req *http.Request) { req.Header.Set(headerSecWsKey, "c2hvcnQ=") }},
	}

	for _, tc := range testCases {
		req := valid()
		tc.modify(req)

		accept, err := checkOpenHandshake(req, zap.NewNop())
		if tc.ok {
			if err != nil || accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
				t.Errorf("%s: checkOpenHandshake() = %q, %v, ERROR expected success", tc.name, accept, err)
			}
			continue
		}

		if !errors.Is(err, ErrInvalidHandshakeRequest) {
			t.Errorf("%s: checkOpenHandshake() error = %v, ERROR expected %v", tc.name, err, ErrInvalidHandshakeRequest)
		} else {
			t.Logf("%s: checkOpenHandshake() error = %v, OK", tc.name, err)
		}
	}
}
