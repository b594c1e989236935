package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"hapibridge/internal/approval"
	"hapibridge/internal/chatstate"
	"hapibridge/internal/hapi"
	"hapibridge/internal/push"
	"hapibridge/internal/registry"
	"hapibridge/internal/stream"
)

// ErrNoSession reports that the chat has no bound session and the command
// did not name one.
var ErrNoSession = errors.New("no session selected")

// ErrNotQuick reports that a line did not carry the chat's quick prefix and
// should be ignored rather than forwarded.
var ErrNotQuick = errors.New("message does not carry the quick prefix")

// API is the slice of the remote client the controller drives directly.
// The registry and the approval coordinator hold their own slices.
type API interface {
	FetchSession(ctx context.Context, sessionID string) (hapi.Session, error)
	FetchMessages(ctx context.Context, sessionID string, limit int) ([]hapi.Message, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	SetPermissionMode(ctx context.Context, sessionID, mode string) error
	SetModel(ctx context.Context, sessionID, model string) error
	Abort(ctx context.Context, sessionID string) error
	Archive(ctx context.Context, sessionID string) error
	Rename(ctx context.Context, sessionID, name string) error
	Delete(ctx context.Context, sessionID string) error
	FetchMachines(ctx context.Context) ([]hapi.Machine, error)
	RecentPaths(ctx context.Context) ([]string, error)
	Spawn(ctx context.Context, machineID string, req hapi.SpawnRequest) (string, error)
}

type Deps struct {
	API       API
	Registry  *registry.Registry
	Streams   *stream.Manager
	Approvals *approval.Coordinator
	Filter    *push.Filter
	State     *chatstate.Store
	Logger    *slog.Logger
}

// Controller is the command surface the chat layer calls into. Every method
// is safe for concurrent use; per-chat state lives in the store, per-session
// state in the registry, coordinator and filter.
type Controller struct {
	api       API
	sessions  *registry.Registry
	streams   *stream.Manager
	approvals *approval.Coordinator
	filter    *push.Filter
	state     *chatstate.Store
	logger    *slog.Logger
}

func New(d Deps) (*Controller, error) {
	if d.API == nil || d.Registry == nil || d.Streams == nil || d.Approvals == nil || d.Filter == nil || d.State == nil {
		return nil, errors.New("controller deps are incomplete")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Controller{
		api:       d.API,
		sessions:  d.Registry,
		streams:   d.Streams,
		approvals: d.Approvals,
		filter:    d.Filter,
		state:     d.State,
		logger:    d.Logger,
	}, nil
}

// Sessions refreshes the remote directory and returns the indexed snapshot.
func (c *Controller) Sessions(ctx context.Context) ([]registry.Entry, error) {
	if err := c.sessions.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.sessions.Snapshot(), nil
}

// Switch binds the chat to a session and starts watching its stream. The
// ref is a short index or an ID prefix; indexes are resolved against a
// fresh snapshot.
func (c *Controller) Switch(ctx context.Context, chatID, ref string) (registry.Entry, error) {
	entry, err := c.resolve(ctx, ref)
	if err != nil {
		return registry.Entry{}, err
	}
	if err := c.state.BindSession(chatID, entry.ID, entry.AgentKind); err != nil {
		return registry.Entry{}, err
	}
	if err := c.watchEntry(chatID, entry); err != nil {
		return registry.Entry{}, err
	}
	return entry, nil
}

// Current returns the chat's bound session, refreshing the registry once
// when the snapshot does not know it yet.
func (c *Controller) Current(ctx context.Context, chatID string) (registry.Entry, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return registry.Entry{}, err
	}
	if entry, ok := c.sessions.Get(sessionID); ok {
		return entry, nil
	}
	if err := c.sessions.Refresh(ctx); err != nil {
		return registry.Entry{}, err
	}
	entry, ok := c.sessions.Get(sessionID)
	if !ok {
		return registry.Entry{}, fmt.Errorf("bound session %s is gone: %w", sessionID, registry.ErrNoMatch)
	}
	return entry, nil
}

// Watch subscribes the chat to a session's stream without rebinding.
func (c *Controller) Watch(ctx context.Context, chatID, ref string) (registry.Entry, error) {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return registry.Entry{}, err
	}
	return entry, c.watchEntry(chatID, entry)
}

func (c *Controller) watchEntry(chatID string, entry registry.Entry) error {
	c.streams.Watch(entry.ID)
	if state, err := c.state.Get(chatID); err == nil {
		if level, perr := push.ParseLevel(state.PushLevel); perr == nil {
			c.filter.SetLevel(entry.ID, level)
		}
	}
	return c.state.AddWatch(entry.ID, chatID)
}

// Unwatch stops the session's stream and forgets its buffered state.
func (c *Controller) Unwatch(ctx context.Context, chatID, ref string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	c.streams.Unwatch(entry.ID)
	c.filter.Forget(entry.ID)
	return c.state.RemoveWatch(entry.ID)
}

// Resume reattaches the streams persisted from the previous run.
func (c *Controller) Resume(ctx context.Context) error {
	watches, err := c.state.Watches()
	if err != nil {
		return err
	}
	for _, w := range watches {
		c.streams.Watch(w.SessionID)
		if state, err := c.state.Get(w.ChatID); err == nil {
			if level, perr := push.ParseLevel(state.PushLevel); perr == nil {
				c.filter.SetLevel(w.SessionID, level)
			}
		}
	}
	c.logger.Info("resumed stream watches", "count", len(watches))
	return nil
}

// Send delivers text to the chat's bound session.
func (c *Controller) Send(ctx context.Context, chatID, text string) error {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return err
	}
	return c.api.SendMessage(ctx, sessionID, text)
}

// SendTo delivers text to an explicitly referenced session.
func (c *Controller) SendTo(ctx context.Context, chatID, ref, text string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	return c.api.SendMessage(ctx, entry.ID, text)
}

// QuickSend handles the prefix shortcut: "3 fix the test" targets index 3,
// plain text targets the bound session. When the chat (or the fallback)
// configures a quick prefix, only lines carrying it are forwarded, with the
// prefix stripped first; lines without it return ErrNotQuick.
func (c *Controller) QuickSend(ctx context.Context, chatID, fallbackPrefix, text string) error {
	text = strings.TrimSpace(text)
	prefix := fallbackPrefix
	if state, err := c.state.Get(chatID); err == nil && state.QuickPrefix != "" {
		prefix = state.QuickPrefix
	}
	if prefix != "" {
		if !strings.HasPrefix(text, prefix) {
			return ErrNotQuick
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	if text == "" {
		return errors.New("empty message")
	}
	head, rest, found := strings.Cut(text, " ")
	if found {
		if _, err := strconv.Atoi(head); err == nil {
			rest = strings.TrimSpace(rest)
			if rest != "" {
				return c.SendTo(ctx, chatID, head, rest)
			}
		}
	}
	return c.Send(ctx, chatID, text)
}

// History returns the last messages of the chat's bound session.
func (c *Controller) History(ctx context.Context, chatID string, limit int) ([]hapi.Message, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return nil, err
	}
	return c.api.FetchMessages(ctx, sessionID, limit)
}

// Pending lists the outstanding approval requests for the chat's session.
func (c *Controller) Pending(chatID string) ([]approval.Request, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return nil, err
	}
	return c.approvals.ListPending(sessionID), nil
}

// PendingAll lists outstanding requests across every watched session.
func (c *Controller) PendingAll() []approval.Request {
	return c.approvals.ListPending("")
}

func (c *Controller) Approve(ctx context.Context, requestID string) error {
	return c.approvals.Resolve(ctx, requestID, approval.Approve)
}

func (c *Controller) Deny(ctx context.Context, requestID string) error {
	return c.approvals.Resolve(ctx, requestID, approval.Deny)
}

// ApproveAll bulk-approves the plain permission requests of the chat's
// session. Question requests keep waiting for the answer flow.
func (c *Controller) ApproveAll(ctx context.Context, chatID string) ([]approval.Outcome, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return nil, err
	}
	return c.approvals.ResolveAllPermissions(ctx, sessionID, approval.Approve), nil
}

func (c *Controller) DenyAll(ctx context.Context, chatID string) ([]approval.Outcome, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return nil, err
	}
	return c.approvals.ResolveAllPermissions(ctx, sessionID, approval.Deny), nil
}

// AnswerNext feeds the reply into the session's question cursor.
func (c *Controller) AnswerNext(ctx context.Context, chatID, reply string) (approval.Progress, error) {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return approval.Progress{}, err
	}
	return c.approvals.AnswerNext(ctx, sessionID, reply)
}

func (c *Controller) ResetQuestions(chatID string) error {
	sessionID, err := c.boundSession(chatID)
	if err != nil {
		return err
	}
	if !c.approvals.ResetCursor(sessionID) {
		return approval.ErrNoQuestions
	}
	return nil
}

// SetPushLevel persists the chat's level and applies it to the bound
// session immediately.
func (c *Controller) SetPushLevel(chatID, levelStr string) (push.Level, error) {
	level, err := push.ParseLevel(levelStr)
	if err != nil {
		return 0, err
	}
	if err := c.state.SetPushLevel(chatID, level.String()); err != nil {
		return 0, err
	}
	if sessionID, err := c.boundSession(chatID); err == nil {
		c.filter.SetLevel(sessionID, level)
	}
	return level, nil
}

// SetDefaultPushLevel changes the level for sessions without a per-chat
// override and persists it across restarts.
func (c *Controller) SetDefaultPushLevel(levelStr string) (push.Level, error) {
	level, err := push.ParseLevel(levelStr)
	if err != nil {
		return 0, err
	}
	if err := c.state.SetSetting("default_push_level", level.String()); err != nil {
		return 0, err
	}
	c.filter.SetDefault(level)
	return level, nil
}

// SetNotifyTarget redirects the chat's notices to another destination. An
// empty target restores delivery to the chat itself.
func (c *Controller) SetNotifyTarget(chatID, target string) error {
	return c.state.SetNotifyTarget(chatID, strings.TrimSpace(target))
}

// SetQuickPrefix overrides the quick prefix for one chat. Empty clears the
// override so the global prefix applies again.
func (c *Controller) SetQuickPrefix(chatID, prefix string) error {
	return c.state.SetQuickPrefix(chatID, strings.TrimSpace(prefix))
}

// SetPermissionMode validates the mode against the session's agent kind
// before forwarding it.
func (c *Controller) SetPermissionMode(ctx context.Context, chatID, ref, mode string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	modes := hapi.PermissionModesFor(entry.AgentKind)
	if !contains(modes, mode) {
		return fmt.Errorf("agent %s does not support permission mode %q (have: %s)",
			entry.AgentKind, mode, strings.Join(modes, ", "))
	}
	return c.api.SetPermissionMode(ctx, entry.ID, mode)
}

// SetModel switches the model of a claude session.
func (c *Controller) SetModel(ctx context.Context, chatID, ref, model string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	if entry.AgentKind != hapi.AgentClaude {
		return fmt.Errorf("model switching is only available for claude sessions, not %s", entry.AgentKind)
	}
	if !contains(hapi.ModelModes, model) {
		return fmt.Errorf("unknown model mode %q (have: %s)", model, strings.Join(hapi.ModelModes, ", "))
	}
	return c.api.SetModel(ctx, entry.ID, model)
}

// Abort interrupts the session's current run.
func (c *Controller) Abort(ctx context.Context, chatID, ref string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	return c.api.Abort(ctx, entry.ID)
}

// Archive retires the session and drops every piece of local state tied
// to it.
func (c *Controller) Archive(ctx context.Context, chatID, ref string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	if err := c.api.Archive(ctx, entry.ID); err != nil {
		return err
	}
	return c.forgetSession(chatID, entry.ID)
}

// Delete removes the session remotely and locally.
func (c *Controller) Delete(ctx context.Context, chatID, ref string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	if err := c.api.Delete(ctx, entry.ID); err != nil {
		return err
	}
	return c.forgetSession(chatID, entry.ID)
}

func (c *Controller) Rename(ctx context.Context, chatID, ref, name string) error {
	entry, err := c.resolveOrCurrent(ctx, chatID, ref)
	if err != nil {
		return err
	}
	return c.api.Rename(ctx, entry.ID, name)
}

// Machines lists the active remote machines sessions can be spawned on.
func (c *Controller) Machines(ctx context.Context) ([]hapi.Machine, error) {
	return c.api.FetchMachines(ctx)
}

func (c *Controller) RecentPaths(ctx context.Context) ([]string, error) {
	return c.api.RecentPaths(ctx)
}

// NewSession spawns a session on a machine, binds the chat to it and starts
// watching it.
func (c *Controller) NewSession(ctx context.Context, chatID, machineID, agent, dir string) (string, error) {
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent == "" {
		agent = hapi.AgentClaude
	}
	if !hapi.IsKnownAgent(agent) {
		return "", fmt.Errorf("unknown agent %q (have: %s)", agent, strings.Join(hapi.Agents, ", "))
	}
	sessionID, err := c.api.Spawn(ctx, machineID, hapi.SpawnRequest{Agent: agent, Directory: dir})
	if err != nil {
		return "", err
	}
	if err := c.state.BindSession(chatID, sessionID, agent); err != nil {
		return "", err
	}
	c.streams.Watch(sessionID)
	if err := c.state.AddWatch(sessionID, chatID); err != nil {
		return "", err
	}
	return sessionID, nil
}

func (c *Controller) forgetSession(chatID, sessionID string) error {
	c.streams.Unwatch(sessionID)
	c.approvals.DropSession(sessionID)
	c.filter.Forget(sessionID)
	if err := c.state.RemoveWatch(sessionID); err != nil {
		return err
	}
	if state, err := c.state.Get(chatID); err == nil && state.SessionID == sessionID {
		return c.state.BindSession(chatID, "", state.AgentKind)
	}
	return nil
}

func (c *Controller) boundSession(chatID string) (string, error) {
	state, err := c.state.Get(chatID)
	if err != nil {
		return "", err
	}
	if state.SessionID == "" {
		return "", ErrNoSession
	}
	return state.SessionID, nil
}

// resolve refreshes the registry and resolves an index or ID prefix.
// Index-addressed commands always act on a fresh snapshot.
func (c *Controller) resolve(ctx context.Context, ref string) (registry.Entry, error) {
	if err := c.sessions.Refresh(ctx); err != nil {
		return registry.Entry{}, err
	}
	return c.sessions.Resolve(ref)
}

func (c *Controller) resolveOrCurrent(ctx context.Context, chatID, ref string) (registry.Entry, error) {
	if strings.TrimSpace(ref) == "" {
		return c.Current(ctx, chatID)
	}
	return c.resolve(ctx, ref)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
