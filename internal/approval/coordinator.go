package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hapibridge/internal/hapi"
)

// Kind distinguishes plain approvals from question-type requests.
type Kind int

const (
	KindPermission Kind = iota
	KindQuestion
)

func (k Kind) String() string {
	if k == KindQuestion {
		return "question"
	}
	return "permission"
}

// Decision is the operator's verdict on a plain permission request.
type Decision int

const (
	Approve Decision = iota
	Deny
)

var (
	// ErrAlreadyHandled reports the benign race outcome: another caller is
	// resolving, or has resolved, the same request.
	ErrAlreadyHandled = errors.New("request already handled")
	ErrNotFound       = errors.New("request not found")
	// ErrNoQuestions reports that a session has no question request to
	// step through.
	ErrNoQuestions = errors.New("no pending question request")
)

type state int

const (
	statePending state = iota
	stateResolving
	stateResolved
)

// Request is the public snapshot of one outstanding approval.
type Request struct {
	RequestID   string
	SessionID   string
	Kind        Kind
	Tool        string
	Title       string
	ArgsSummary string
	Questions   []hapi.Question
	ReceivedAt  time.Time
}

// Resolver performs the remote approve/deny/answer calls. Failures leave the
// request pending so it can be retried.
type Resolver interface {
	Approve(ctx context.Context, sessionID, requestID string) error
	Deny(ctx context.Context, sessionID, requestID string) error
	Answer(ctx context.Context, sessionID, requestID string, question int, reply string) error
}

type pendingRequest struct {
	Request
	seq        uint64
	state      state
	answered   int
	answering  bool
	resolvedAt time.Time
}

// resolvedRetention is how long a resolved request stays in the table so
// reconnect replays of the same request ID remain deduplicated.
const resolvedRetention = 5 * time.Minute

// Coordinator owns the table of outstanding approval requests. It is the
// only state mutated from both read loops and command handlers, so every
// transition goes through the Pending->Resolving guard under its mutex; the
// remote call itself never runs with the lock held.
type Coordinator struct {
	resolver Resolver
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	requests map[string]*pendingRequest
	cursors  map[string]string // sessionID -> requestID being stepped through
	nextSeq  uint64
	nowFunc  func() time.Time
}

func NewCoordinator(resolver Resolver, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		resolver: resolver,
		timeout:  timeout,
		logger:   logger,
		requests: map[string]*pendingRequest{},
		cursors:  map[string]string{},
		nowFunc:  time.Now,
	}
}

// Record inserts a new pending request. Duplicate request IDs are ignored,
// which makes reconnect replays harmless. Returns true when newly inserted.
func (c *Coordinator) Record(req Request) bool {
	if req.RequestID == "" || req.SessionID == "" {
		return false
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	if _, exists := c.requests[req.RequestID]; exists {
		return false
	}
	c.nextSeq++
	c.requests[req.RequestID] = &pendingRequest{Request: req, seq: c.nextSeq}
	return true
}

// pruneLocked drops resolved requests past the dedup window so a busy
// session does not grow the table without bound.
func (c *Coordinator) pruneLocked() {
	now := c.nowFunc()
	for id, r := range c.requests {
		if r.state == stateResolved && now.Sub(r.resolvedAt) >= resolvedRetention {
			delete(c.requests, id)
		}
	}
}

// ListPending returns pending requests oldest first. An empty sessionID
// spans all sessions; kinds, when given, filter by kind.
func (c *Coordinator) ListPending(sessionID string, kinds ...Kind) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listPendingLocked(sessionID, kinds...)
}

func (c *Coordinator) listPendingLocked(sessionID string, kinds ...Kind) []Request {
	matches := make([]*pendingRequest, 0, len(c.requests))
	for _, r := range c.requests {
		if r.state == stateResolved {
			continue
		}
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		if len(kinds) > 0 && !kindMatches(r.Kind, kinds) {
			continue
		}
		matches = append(matches, r)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })
	out := make([]Request, 0, len(matches))
	for _, r := range matches {
		out = append(out, r.Request)
	}
	return out
}

func kindMatches(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// PendingCount reports how many requests are outstanding for a session
// (all sessions when sessionID is empty).
func (c *Coordinator) PendingCount(sessionID string) int {
	return len(c.ListPending(sessionID))
}

// Resolve approves or denies one plain permission request. The atomic
// Pending->Resolving transition guarantees the remote call is issued at
// most once per request: a concurrent caller observes Resolving and gets
// ErrAlreadyHandled. On remote failure the request reverts to Pending.
func (c *Coordinator) Resolve(ctx context.Context, requestID string, decision Decision) error {
	c.mu.Lock()
	r, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if r.state != statePending || r.answering {
		c.mu.Unlock()
		return ErrAlreadyHandled
	}
	r.state = stateResolving
	sessionID := r.SessionID
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var err error
	if decision == Deny {
		err = c.resolver.Deny(callCtx, sessionID, requestID)
	} else {
		err = c.resolver.Approve(callCtx, sessionID, requestID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		r.state = statePending
		return err
	}
	r.state = stateResolved
	r.resolvedAt = c.nowFunc()
	return nil
}

// Outcome is one entry of a bulk resolution result.
type Outcome struct {
	RequestID string
	Tool      string
	Err       error
}

// ResolveAllPermissions resolves every pending plain permission request,
// oldest first, continuing past individual failures. Question requests are
// deliberately excluded: they go through the step-through path. Requests
// arriving while the batch runs wait for the next invocation.
func (c *Coordinator) ResolveAllPermissions(ctx context.Context, sessionID string, decision Decision) []Outcome {
	targets := c.ListPending(sessionID, KindPermission)
	outcomes := make([]Outcome, 0, len(targets))
	for _, req := range targets {
		err := c.Resolve(ctx, req.RequestID, decision)
		outcomes = append(outcomes, Outcome{RequestID: req.RequestID, Tool: req.Tool, Err: err})
	}
	return outcomes
}

// Progress reports where the question cursor stands after an answer.
type Progress struct {
	RequestID string
	Answered  int
	Total     int
	Done      bool
	Next      *hapi.Question
}

// CurrentQuestion returns the question the session's cursor points at
// without advancing it.
func (c *Coordinator) CurrentQuestion(sessionID string) (Request, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.cursorRequestLocked(sessionID)
	if err != nil {
		return Request{}, 0, err
	}
	return r.Request, r.answered, nil
}

// AnswerNext submits the reply for the session's current question and
// advances the cursor. Answering the final question resolves the whole
// request through the same Pending->Resolving guard as Resolve.
func (c *Coordinator) AnswerNext(ctx context.Context, sessionID, reply string) (Progress, error) {
	c.mu.Lock()
	r, err := c.cursorRequestLocked(sessionID)
	if err != nil {
		c.mu.Unlock()
		return Progress{}, err
	}
	if r.answering || r.state != statePending {
		c.mu.Unlock()
		return Progress{}, ErrAlreadyHandled
	}
	question := r.answered
	total := len(r.Questions)
	final := question == total-1
	r.answering = true
	if final {
		r.state = stateResolving
	}
	requestID := r.RequestID
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	callErr := c.resolver.Answer(callCtx, sessionID, requestID, question, reply)

	c.mu.Lock()
	defer c.mu.Unlock()
	r.answering = false
	if callErr != nil {
		r.state = statePending
		return Progress{}, callErr
	}
	r.answered++
	if final {
		r.state = stateResolved
		r.resolvedAt = c.nowFunc()
		delete(c.cursors, sessionID)
		return Progress{RequestID: requestID, Answered: r.answered, Total: total, Done: true}, nil
	}
	next := r.Questions[r.answered]
	return Progress{RequestID: requestID, Answered: r.answered, Total: total, Next: &next}, nil
}

// ResetCursor rewinds the session's question cursor to the first question.
func (c *Coordinator) ResetCursor(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.cursorRequestLocked(sessionID)
	if err != nil {
		return false
	}
	if r.answering {
		return false
	}
	r.answered = 0
	return true
}

// cursorRequestLocked returns the question request the session's cursor is
// bound to, binding it to the oldest pending question request when unset or
// stale.
func (c *Coordinator) cursorRequestLocked(sessionID string) (*pendingRequest, error) {
	if id, ok := c.cursors[sessionID]; ok {
		if r, exists := c.requests[id]; exists && r.state != stateResolved {
			return r, nil
		}
		delete(c.cursors, sessionID)
	}
	pending := c.listPendingLocked(sessionID, KindQuestion)
	if len(pending) == 0 {
		return nil, ErrNoQuestions
	}
	r := c.requests[pending[0].RequestID]
	c.cursors[sessionID] = r.RequestID
	return r, nil
}

// DropSession discards all state for a session. Used when the session is
// archived, deleted, or its agent state is reset remotely.
func (c *Coordinator) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, r := range c.requests {
		if r.SessionID == sessionID && !r.answering && r.state != stateResolving {
			delete(c.requests, id)
		}
	}
	delete(c.cursors, sessionID)
}
