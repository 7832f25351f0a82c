package websocket

import (
	"bufio"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wmdanor/wsession/internal/lock"
)

// Config of a Session. The zero value is a server-side session: outgoing
// frames unmasked, automatic pong replies on.
type Config struct {
	// Mask outgoing frames. Required for the client role.
	Masking bool
	// Do not answer pings automatically.
	DisableAutoPong bool

	// Largest message accepted, summed over its fragments. Larger ones are
	// a protocol error closed with 1009. 0 means no limit.
	MaxMessageSize int64

	RequestPath string
	RemoteAddr  net.Addr

	// Source of masking keys and ping payloads. Must be safe for concurrent
	// use. Defaults to crypto/rand.Reader.
	Random io.Reader

	Logger *zap.Logger
}

// Session sends and receives whole messages over one duplex byte stream.
//
// Sends are serialized with each other, and so are receives, but a send and
// a receive proceed concurrently. A binary message returned by a receive
// keeps the receive side busy until its body is drained or closed.
type Session struct {
	l *zap.Logger

	in  *lock.Lock[*bufio.Reader]
	out *lock.Lock[io.Writer]

	// nil when the environment owns the stream
	closer io.Closer

	requestPath    string
	remoteAddr     net.Addr
	rand           io.Reader
	maxMessageSize int64

	masking  atomic.Bool
	autoPong atomic.Bool

	handlerMu     sync.RWMutex
	handleControl ControlFrameHandler
	listeners     map[uint64]func(ControlFrame)
	nextListener  uint64

	// guarded by the send lock
	sentClose bool
	recvClose atomic.Bool

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewSession starts a session over an already upgraded stream. The stream is
// not closed by Session.Close.
func NewSession(rw io.ReadWriter, cfg *Config) *Session {
	return newSession(bufio.NewReader(rw), rw, nil, cfg)
}

func newSession(r *bufio.Reader, w io.Writer, closer io.Closer, cfg *Config) *Session {
	if cfg == nil {
		cfg = &Config{}
	}

	l := cfg.Logger
	if l == nil {
		l = newInternalLogger()
	}
	l = l.Named("websocket")
	if cfg.RequestPath != "" {
		l = l.With(zap.String("path", cfg.RequestPath))
	}
	if cfg.RemoteAddr != nil {
		l = l.With(zap.String("remote", cfg.RemoteAddr.String()))
	}

	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}

	s := &Session{
		l:              l,
		in:             lock.New(r),
		out:            lock.New(w),
		closer:         closer,
		requestPath:    cfg.RequestPath,
		remoteAddr:     cfg.RemoteAddr,
		rand:           random,
		maxMessageSize: cfg.MaxMessageSize,
		listeners:      make(map[uint64]func(ControlFrame)),
	}
	s.masking.Store(cfg.Masking)
	s.autoPong.Store(!cfg.DisableAutoPong)

	return s
}

func (s *Session) RequestPath() string {
	return s.requestPath
}

func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// Masking reports whether outgoing frames are masked.
func (s *Session) Masking() bool {
	return s.masking.Load()
}

// SetMasking takes effect from the next frame sent.
func (s *Session) SetMasking(masking bool) {
	s.masking.Store(masking)
}

func (s *Session) AutoPong() bool {
	return s.autoPong.Load()
}

func (s *Session) SetAutoPong(autoPong bool) {
	s.autoPong.Store(autoPong)
}

// Err returns the error that broke the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
