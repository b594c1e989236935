package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"hapibridge/internal/hapi"
)

// Status is the registry's view of a session's lifecycle.
type Status string

const (
	StatusActive       Status = "active"
	StatusWaitingInput Status = "waiting-input"
	StatusArchived     Status = "archived"
)

// Entry is one session in the current snapshot. Index is 1-based and stable
// only within that snapshot: sessions can be created or archived between
// refreshes, so callers must re-resolve indexes after any mutation.
type Entry struct {
	Index           int
	ID              string
	AgentKind       string
	Title           string
	WorkDir         string
	PermissionMode  string
	ModelMode       string
	Status          Status
	PendingRequests int
}

// Lister is the remote directory the registry refreshes from.
type Lister interface {
	FetchSessions(ctx context.Context) ([]hapi.Session, error)
}

var (
	ErrNoMatch   = errors.New("no matching session")
	ErrAmbiguous = errors.New("prefix matches multiple sessions")
)

// Registry keeps an in-memory snapshot of the remote session directory.
type Registry struct {
	lister Lister

	mu      sync.RWMutex
	entries []Entry
}

func New(lister Lister) *Registry {
	return &Registry{lister: lister}
}

// Refresh replaces the snapshot with the remote directory's current state.
func (r *Registry) Refresh(ctx context.Context) error {
	sessions, err := r.lister.FetchSessions(ctx)
	if err != nil {
		return fmt.Errorf("refresh sessions: %w", err)
	}
	entries := make([]Entry, 0, len(sessions))
	for i, s := range sessions {
		entries = append(entries, Entry{
			Index:           i + 1,
			ID:              s.ID,
			AgentKind:       agentKindOf(s),
			Title:           s.Metadata.Summary.Text,
			WorkDir:         s.Metadata.Path,
			PermissionMode:  s.PermissionMode,
			ModelMode:       s.ModelMode,
			Status:          statusOf(s),
			PendingRequests: s.PendingRequestsCount,
		})
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

func agentKindOf(s hapi.Session) string {
	if s.Metadata.Flavor != "" {
		return s.Metadata.Flavor
	}
	return hapi.AgentClaude
}

func statusOf(s hapi.Session) Status {
	if !s.Active {
		return StatusArchived
	}
	if s.Thinking {
		return StatusActive
	}
	return StatusWaitingInput
}

// Snapshot returns a copy of the current entries in index order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get looks a session up by its full ID.
func (r *Registry) Get(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == sessionID {
			return e, true
		}
	}
	return Entry{}, false
}

// Resolve maps operator input to one session: a number resolves as a short
// index, anything else as a unique session-ID prefix.
func (r *Registry) Resolve(target string) (Entry, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Entry{}, ErrNoMatch
	}
	if n, err := strconv.Atoi(target); err == nil {
		e, ok := r.ResolveIndex(n)
		if !ok {
			return Entry{}, ErrNoMatch
		}
		return e, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []Entry
	for _, e := range r.entries {
		if strings.HasPrefix(e.ID, target) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return Entry{}, ErrNoMatch
	case 1:
		return matches[0], nil
	default:
		return Entry{}, fmt.Errorf("%w: %d sessions share prefix %q", ErrAmbiguous, len(matches), target)
	}
}

// ResolveIndex maps a 1-based short index to its entry.
func (r *Registry) ResolveIndex(n int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 1 || n > len(r.entries) {
		return Entry{}, false
	}
	return r.entries[n-1], true
}
