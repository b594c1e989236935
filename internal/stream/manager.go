package stream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"hapibridge/internal/hapi"
)

const (
	defaultMinBackoff      = time.Second
	defaultMaxBackoff      = 60 * time.Second
	defaultMaxReadFailures = 3
)

// Handler consumes classified events in per-session arrival order. It runs
// on the session's read goroutine, so it must not block on slow work.
type Handler func(sessionID string, ev Event)

type Options struct {
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	MaxReadFailures int
}

// Manager owns one persistent event stream per watched session. Each watch
// runs an independent read loop with its own reconnect backoff; one
// session's failures never touch another's stream.
type Manager struct {
	dialer  hapi.StreamDialer
	handler Handler
	logger  *slog.Logger

	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxReadFailures int

	mu      sync.Mutex
	streams map[string]*watchedStream
	closed  bool
}

type watchedStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(dialer hapi.StreamDialer, handler Handler, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxReadFailures <= 0 {
		opts.MaxReadFailures = defaultMaxReadFailures
	}
	return &Manager{
		dialer:          dialer,
		handler:         handler,
		logger:          logger,
		minBackoff:      opts.MinBackoff,
		maxBackoff:      opts.MaxBackoff,
		maxReadFailures: opts.MaxReadFailures,
		streams:         map[string]*watchedStream{},
	}
}

// Watch starts the read loop for a session. Watching an already-watched
// session is a no-op; there is never more than one stream per session.
func (m *Manager) Watch(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, exists := m.streams[sessionID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ws := &watchedStream{cancel: cancel, done: make(chan struct{})}
	m.streams[sessionID] = ws
	go m.run(ctx, sessionID, ws)
}

// Unwatch stops a session's read loop and waits for it to finish. After
// Unwatch returns no further events for the session are delivered.
func (m *Manager) Unwatch(sessionID string) {
	m.mu.Lock()
	ws, ok := m.streams[sessionID]
	if ok {
		delete(m.streams, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	ws.cancel()
	<-ws.done
}

func (m *Manager) Watching(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[sessionID]
	return ok
}

func (m *Manager) WatchedSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for id := range m.streams {
		out = append(out, id)
	}
	return out
}

// Close stops every stream and rejects further watches.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	streams := make([]*watchedStream, 0, len(m.streams))
	for id, ws := range m.streams {
		streams = append(streams, ws)
		delete(m.streams, id)
	}
	m.mu.Unlock()
	for _, ws := range streams {
		ws.cancel()
		<-ws.done
	}
}

func (m *Manager) run(ctx context.Context, sessionID string, ws *watchedStream) {
	defer close(ws.done)

	backoff := m.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		sock, err := m.dialer.DialEvents(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("stream dial failed", "session", sessionID, "backoff", backoff, "err", err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.maxBackoff)
			continue
		}

		disconnected := m.readLoop(ctx, sessionID, sock, &backoff)
		_ = sock.Close()
		if !disconnected {
			// Cancelled while reading.
			return
		}
		m.logger.Warn("stream disconnected", "session", sessionID, "backoff", backoff)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, m.maxBackoff)
	}
}

// readLoop consumes frames until the connection dies or ctx is cancelled.
// Returns true when the caller should reconnect.
func (m *Manager) readLoop(ctx context.Context, sessionID string, sock hapi.Socket, backoff *time.Duration) bool {
	failures := 0
	for {
		text, err := sock.ReadText(ctx)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			failures++
			if failures >= m.maxReadFailures {
				return true
			}
			continue
		}

		// Any successfully received frame proves the connection is healthy.
		failures = 0
		*backoff = m.minBackoff

		ev := Classify([]byte(text))
		if ctx.Err() != nil {
			return false
		}
		m.handler(sessionID, ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
