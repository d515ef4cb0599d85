// Package browser runs the loopback signing session for the CryptoPro
// browser plugin. A session serves an embedded signing page on an
// ephemeral 127.0.0.1 port, hands the document to the page, and waits for
// the plugin to deliver a detached CMS signature. Every request is gated
// by source address and a per-session nonce.
package browser

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Browser signing errors
var (
	ErrSigningTimedOut    = errors.New("browser signing timed out")
	ErrSigningCancelled   = errors.New("browser signing cancelled")
	ErrInconsistentResult = errors.New("browser signing finished without a result")
	ErrNotStarted         = errors.New("browser signing server not started")
)

// PluginScriptSources are the script URLs the signing page tries in order
// to reach the CryptoPro plugin: the vendor CDN first, then the bundled
// extension copies.
var PluginScriptSources = []string{
	"https://www.cryptopro.ru/sites/default/files/products/cades/cadesplugin_api.js",
	"chrome-extension://iifchhfnnmpdbibifmljnfjhpififfog/nmcades_plugin_api.js",
	"chrome-extension://epiejncknlhcgcanmnmnjnmghjkpgkdd/nmcades_plugin_api.js",
}

// DefaultWaitTimeout bounds Wait when the caller does not set a timeout.
const DefaultWaitTimeout = 180 * time.Second

// logBufferCapacity bounds the page log; the oldest entries are evicted
// but their sequence ids are never reused.
const logBufferCapacity = 500

// SigningFailedError carries the failure message reported by the signing
// page.
type SigningFailedError struct {
	Message string
}

func (e *SigningFailedError) Error() string {
	return "browser signing failed: " + e.Message
}

// Result is a signature delivered by the signing page.
type Result struct {
	Signature []byte
	Message   string
}

// State tracks the session lifecycle.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateAwaitingResult
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarted:
		return "STARTED"
	case StateAwaitingResult:
		return "AWAITING_RESULT"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// logBuffer keeps the newest page log entries under absolute sequence
// ids. The first entry ever appended has id 1.
type logBuffer struct {
	items []string
	total int
}

func (b *logBuffer) append(line string) {
	b.items = append(b.items, line)
	b.total++
	if len(b.items) > logBufferCapacity {
		b.items = b.items[len(b.items)-logBufferCapacity:]
	}
}

// since returns the retained entries with id strictly greater than after,
// plus the highest assigned id.
func (b *logBuffer) since(after int) (int, []string) {
	if after < 0 {
		after = 0
	}
	first := b.total - len(b.items)
	if after < first {
		after = first
	}
	idx := after - first
	if idx >= len(b.items) {
		return b.total, []string{}
	}
	out := make([]string, len(b.items)-idx)
	copy(out, b.items[idx:])
	return b.total, out
}

// Session owns one browser signing exchange: the loopback server, the
// nonce, the page log and the eventual result.
type Session struct {
	// PageLog mirrors session logs onto the signing page. Set before
	// Start.
	PageLog bool
	// Clock is the timer source for Wait, replaceable in tests.
	Clock clockwork.Clock

	documentName string
	documentB64  string
	nonce        string
	logger       *zap.Logger
	relay        *relayCore

	mu       sync.Mutex
	state    State
	result   *Result
	failure  string
	done     chan struct{}
	doneOnce sync.Once
	logs     logBuffer

	server   *http.Server
	listener net.Listener
	served   chan struct{}
	port     int
}

// NewSession prepares a signing session for the named document. The
// session is inert until Start.
func NewSession(documentName string, document []byte, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		PageLog:      true,
		Clock:        clockwork.NewRealClock(),
		documentName: documentName,
		documentB64:  base64.StdEncoding.EncodeToString(document),
		nonce:        newNonce(),
		done:         make(chan struct{}),
	}
	s.relay = newRelayCore(s)
	s.logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, s.relay)
	}))
	return s
}

func newNonce() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("browser: crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Nonce returns the per-session access token.
func (s *Session) Nonce() string { return s.nonce }

// Logger returns the session logger. Entries logged through it appear on
// the signing page while the session runs.
func (s *Session) Logger() *zap.Logger { return s.logger }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Finished reports whether the session reached a terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.terminal()
}

// URL returns the signing page address including the nonce.
func (s *Session) URL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreated {
		return "", ErrNotStarted
	}
	return fmt.Sprintf("http://127.0.0.1:%d/?nonce=%s", s.port, s.nonce), nil
}

// Port returns the bound loopback port, zero before Start.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds an ephemeral loopback port and begins serving the signing
// page. Calling Start on a running session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return nil
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to bind loopback listener: %w", err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.server = &http.Server{Handler: s.buildRouter()}
	s.served = make(chan struct{})
	s.state = StateStarted
	server, served := s.server, s.served
	s.mu.Unlock()

	go func() {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("browser signing server terminated", zap.Error(err))
		}
	}()

	s.appendLog(fmt.Sprintf("Браузерный сервер подписи запущен на 127.0.0.1:%d", s.port))
	s.logger.Info("browser signing server started", zap.Int("port", s.port))
	return nil
}

// Stop shuts the server down and detaches the page log relay. It is
// idempotent and safe on a session that never started.
func (s *Session) Stop() {
	s.mu.Lock()
	server := s.server
	served := s.served
	s.server = nil
	s.served = nil
	s.mu.Unlock()

	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("browser signing server shutdown", zap.Error(err))
	}
	<-served

	s.relay.detach()
	s.logger.Info("browser signing server stopped")
}

// Wait blocks until the page delivers a result, the timeout elapses, or
// ctx is cancelled. A non-positive timeout selects DefaultWaitTimeout.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	s.mu.Lock()
	if s.state == StateCreated {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if s.state == StateStarted {
		s.state = StateAwaitingResult
	}
	s.mu.Unlock()

	timer := s.Clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.logger.Warn("browser signing wait cancelled", zap.Error(ctx.Err()))
		return nil, fmt.Errorf("%w: %v", ErrSigningCancelled, ctx.Err())
	case <-timer.Chan():
		s.mu.Lock()
		if !s.state.terminal() {
			s.state = StateTimedOut
		}
		s.mu.Unlock()
		s.logger.Error("browser signing wait timed out", zap.Duration("timeout", timeout))
		return nil, ErrSigningTimedOut
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failure != "" {
			return nil, &SigningFailedError{Message: s.failure}
		}
		if s.result == nil {
			return nil, ErrInconsistentResult
		}
		return s.result, nil
	}
}

// setResult stores a delivered signature and completes the session.
func (s *Session) setResult(result *Result) {
	s.mu.Lock()
	if !s.state.terminal() {
		s.state = StateCompleted
		s.result = result
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	s.logger.Info("browser signature received", zap.String("message", result.Message))
}

// setFailure records a page-reported error and completes the session.
func (s *Session) setFailure(message string) {
	s.mu.Lock()
	if !s.state.terminal() {
		s.state = StateFailed
		s.failure = message
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	s.logger.Error("browser signing failed", zap.String("message", message))
}

// appendLog records a page log line. Callers must not hold s.mu.
func (s *Session) appendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.PageLog {
		return
	}
	s.logs.append(line)
}

// logsSince snapshots the page log after the given sequence id.
func (s *Session) logsSince(after int) (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.since(after)
}
