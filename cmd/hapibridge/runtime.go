package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"hapibridge/internal/approval"
	"hapibridge/internal/chatstate"
	"hapibridge/internal/config"
	"hapibridge/internal/controller"
	"hapibridge/internal/db"
	"hapibridge/internal/global"
	"hapibridge/internal/hapi"
	"hapibridge/internal/logging"
	"hapibridge/internal/push"
	"hapibridge/internal/registry"
	"hapibridge/internal/stream"
)

// runtime ties the stream pipeline to the chat surface: classified events
// get recorded as approvals, filtered by push level and delivered to the
// chat that watches the session.
type runtime struct {
	approvals *approval.Coordinator
	filter    *push.Filter
	state     *chatstate.Store
	dispatch  *dispatcher
	logger    *slog.Logger
	ctrl      *controller.Controller
	quick     atomic.Pointer[global.QuickConfig]
}

// PokeSession is the tap shortcut: with poke_approve enabled it bulk
// approves pending permissions, otherwise it nudges the agent to continue.
func (r *runtime) PokeSession(ctx context.Context, chatID string) error {
	if quick := r.quick.Load(); quick != nil && quick.PokeApprove {
		outcomes, err := r.ctrl.ApproveAll(ctx, chatID)
		if err != nil {
			return err
		}
		if len(outcomes) > 0 {
			r.logger.Info("poke approved permissions", "chat", chatID, "count", len(outcomes))
			return nil
		}
	}
	return r.ctrl.Send(ctx, chatID, "continue")
}

func (r *runtime) handleEvent(sessionID string, ev stream.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case stream.KindPermissionRequest:
		r.approvals.Record(approval.Request{
			RequestID:   ev.RequestID,
			SessionID:   sessionID,
			Kind:        approval.KindPermission,
			Tool:        ev.Tool,
			Title:       ev.Title,
			ArgsSummary: ev.ArgsSummary,
		})
	case stream.KindQuestionRequest:
		r.approvals.Record(approval.Request{
			RequestID: ev.RequestID,
			SessionID: sessionID,
			Kind:      approval.KindQuestion,
			Tool:      ev.Tool,
			Title:     ev.Title,
			Questions: ev.Questions,
		})
	}

	notices := r.filter.Decide(sessionID, ev)

	// The agent state is rebuilt from scratch after a reset; recorded
	// requests no longer exist remotely.
	if ev.Kind == stream.KindSessionReset {
		r.approvals.DropSession(sessionID)
	}

	// A session with outstanding approvals is not idle: the request
	// notice already asked for input.
	if ev.Kind == stream.KindWaitingInput && r.approvals.PendingCount(sessionID) > 0 {
		kept := notices[:0]
		for _, n := range notices {
			if n.Digested {
				kept = append(kept, n)
			}
		}
		notices = kept
	}
	if len(notices) == 0 {
		return
	}

	chatID, target, err := r.state.RouteFor(sessionID)
	if err != nil {
		r.logger.Warn("chat lookup failed", "session", sessionID, "error", err)
		return
	}
	if chatID == "" {
		return
	}
	r.dispatch.deliver(ctx, target, notices)
}

// QuickMessage routes one chat line through the quick-send shortcut. The
// chat's own prefix override wins; otherwise the global quick prefix
// applies.
func (r *runtime) QuickMessage(ctx context.Context, chatID, text string) error {
	prefix := ""
	if quick := r.quick.Load(); quick != nil {
		prefix = quick.Prefix
	}
	return r.ctrl.QuickSend(ctx, chatID, prefix, text)
}

type sessionFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (hapi.Session, error)
}

// seedPending loads the approvals that were already outstanding before the
// bridge attached, so commands can act on them without waiting for new
// stream frames.
func (r *runtime) seedPending(ctx context.Context, client sessionFetcher, sessionIDs []string) {
	for _, sessionID := range sessionIDs {
		session, err := client.FetchSession(ctx, sessionID)
		if err != nil {
			r.logger.Warn("pending seed failed", "session", sessionID, "error", err)
			continue
		}
		if session.AgentState == nil {
			continue
		}
		for requestID, payload := range session.AgentState.Requests {
			kind := approval.KindPermission
			if len(payload.Questions) > 0 {
				kind = approval.KindQuestion
			}
			r.approvals.Record(approval.Request{
				RequestID: requestID,
				SessionID: sessionID,
				Kind:      kind,
				Tool:      payload.Tool,
				Title:     payload.Title,
				Questions: payload.Questions,
			})
		}
	}
}

func runServe(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: out, Component: "serve"})

	store := global.NewConfigStore(cfg.ConfigDir)
	operator, err := store.LoadOrInit()
	if err != nil {
		return fmt.Errorf("load operator config: %w", err)
	}
	endpoint, accessToken, proxyURL := resolveServer(cfg, operator)
	if accessToken == "" {
		return fmt.Errorf("no access token configured (set HAPIBRIDGE_ACCESS_TOKEN or %s)", store.Path())
	}

	_, client, err := newAPIClient(cfg, endpoint, accessToken, proxyURL)
	if err != nil {
		return fmt.Errorf("configure api client: %w", err)
	}
	if !client.Health(ctx) {
		logger.Warn("agent server not reachable yet", "endpoint", endpoint)
	}

	gdb, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close(gdb)
	chats, err := chatstate.NewStore(gdb)
	if err != nil {
		return err
	}

	defaultLevel := resolvePushLevel(cfg, operator)
	// A level set at runtime through the command surface outlives restarts
	// and wins over the TOML default.
	if saved, err := chats.Setting("default_push_level"); err == nil && saved != "" {
		if level, perr := push.ParseLevel(saved); perr == nil {
			defaultLevel = level
		}
	}

	rt := &runtime{
		approvals: approval.NewCoordinator(client, cfg.ResolveTimeout, logger.With("module", "approval")),
		filter:    push.NewFilter(defaultLevel),
		state:     chats,
		dispatch:  &dispatcher{notifier: logNotifier{logger: logger.With("module", "notify")}, logger: logger},
		logger:    logger,
	}
	rt.quick.Store(&operator.Quick)

	watcher, err := global.NewConfigWatcher(store, logger.With("module", "config"), func(next global.GlobalConfig) {
		rt.quick.Store(&next.Quick)
		rt.filter.SetDefault(resolvePushLevel(cfg, next))
		logger.Info("operator config reloaded")
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	streams := stream.NewManager(client, rt.handleEvent, logger.With("module", "stream"), stream.Options{
		MaxBackoff: cfg.MaxBackoff,
	})
	defer streams.Close()

	ctrl, err := controller.New(controller.Deps{
		API:       client,
		Registry:  registry.New(client),
		Streams:   streams,
		Approvals: rt.approvals,
		Filter:    rt.filter,
		State:     chats,
		Logger:    logger.With("module", "controller"),
	})
	if err != nil {
		return err
	}
	rt.ctrl = ctrl
	if err := ctrl.Resume(ctx); err != nil {
		logger.Warn("resume failed", "error", err)
	}
	rt.seedPending(ctx, client, streams.WatchedSessions())

	logger.Info("bridge running", "endpoint", endpoint)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runStatus(ctx context.Context, cfg config.Config, out io.Writer) error {
	store := global.NewConfigStore(cfg.ConfigDir)
	operator, err := store.LoadOrInit()
	if err != nil {
		return err
	}
	endpoint, accessToken, proxyURL := resolveServer(cfg, operator)
	_, client, err := newAPIClient(cfg, endpoint, accessToken, proxyURL)
	if err != nil {
		return err
	}

	if !client.Health(ctx) {
		return fmt.Errorf("server %s is not reachable", endpoint)
	}
	fmt.Fprintf(out, "server %s: ok\n", endpoint)

	reg := registry.New(client)
	if err := reg.Refresh(ctx); err != nil {
		return err
	}
	for _, entry := range reg.Snapshot() {
		title := entry.Title
		if title == "" {
			title = entry.WorkDir
		}
		fmt.Fprintf(out, "%2d  %-9s %-8s %s\n", entry.Index, entry.AgentKind, entry.Status, title)
	}
	return nil
}

func runMigrateUp(ctx context.Context, cfg config.Config, out io.Writer) error {
	gdb, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	fmt.Fprintf(out, "schema up to date: %s\n", cfg.DBPath)
	return nil
}

// resolvePushLevel prefers the environment over the TOML file.
func resolvePushLevel(cfg config.Config, operator global.GlobalConfig) push.Level {
	if cfg.PushLevel != "" {
		if level, err := push.ParseLevel(cfg.PushLevel); err == nil {
			return level
		}
	}
	if level, err := push.ParseLevel(operator.Defaults.PushLevel); err == nil {
		return level
	}
	return push.Summary
}

// resolveServer prefers environment settings over the TOML file.
func resolveServer(cfg config.Config, operator global.GlobalConfig) (endpoint, accessToken, proxyURL string) {
	endpoint = strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = operator.Server.Endpoint
	}
	accessToken = strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		accessToken = operator.Server.AccessToken
	}
	proxyURL = strings.TrimSpace(cfg.ProxyURL)
	if proxyURL == "" {
		proxyURL = operator.Server.ProxyURL
	}
	return endpoint, accessToken, proxyURL
}

// newAPIClient builds the token manager and client, both routed through the
// configured proxy when one is set.
func newAPIClient(cfg config.Config, endpoint, accessToken, proxyURL string) (*hapi.TokenManager, *hapi.Client, error) {
	tokens := hapi.NewTokenManager(endpoint, accessToken, cfg.JWTLifetime, cfg.RefreshBefore)
	client := hapi.NewClient(endpoint, tokens)
	if proxyURL != "" {
		if err := tokens.SetProxy(proxyURL); err != nil {
			return nil, nil, err
		}
		if err := client.SetProxy(proxyURL); err != nil {
			return nil, nil, err
		}
	}
	return tokens, client, nil
}
