package chatstate

import (
	"errors"
	"strings"
	"time"

	dbmodel "hapibridge/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State is the controller's view of one chat.
type State struct {
	ChatID       string
	SessionID    string
	AgentKind    string
	PushLevel    string
	QuickPrefix  string
	NotifyTarget string
	UpdatedAt    time.Time
}

// Watch is one persisted stream subscription.
type Watch struct {
	SessionID string
	ChatID    string
	AddedAt   time.Time
}

type Store struct {
	db *gorm.DB
}

// NewStore uses the shared bridge DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

// Get returns the chat's state, with defaults when the chat is new.
func (s *Store) Get(chatID string) (State, error) {
	if err := s.check(chatID); err != nil {
		return State{}, err
	}
	var row dbmodel.ChatState
	err := s.db.First(&row, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{ChatID: chatID, AgentKind: "claude", PushLevel: "summary"}, nil
	}
	if err != nil {
		return State{}, err
	}
	return fromRow(row), nil
}

// BindSession points the chat at a session. An empty sessionID unbinds.
func (s *Store) BindSession(chatID, sessionID, agentKind string) error {
	return s.upsert(chatID, map[string]any{
		"session_id": sessionID,
		"agent_kind": agentKind,
	})
}

func (s *Store) SetPushLevel(chatID, level string) error {
	return s.upsert(chatID, map[string]any{"push_level": level})
}

func (s *Store) SetQuickPrefix(chatID, prefix string) error {
	return s.upsert(chatID, map[string]any{"quick_prefix": prefix})
}

func (s *Store) SetNotifyTarget(chatID, target string) error {
	return s.upsert(chatID, map[string]any{"notify_target": target})
}

func (s *Store) upsert(chatID string, changes map[string]any) error {
	if err := s.check(chatID); err != nil {
		return err
	}
	now := time.Now().UTC().Unix()
	changes["updated_at"] = now
	row := dbmodel.ChatState{
		ChatID:    chatID,
		AgentKind: "claude",
		PushLevel: "summary",
		UpdatedAt: now,
	}
	applyToRow(&row, changes)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.Assignments(changes),
	}).Create(&row).Error
}

func applyToRow(row *dbmodel.ChatState, changes map[string]any) {
	for key, val := range changes {
		str, _ := val.(string)
		switch key {
		case "session_id":
			row.SessionID = str
		case "agent_kind":
			if str != "" {
				row.AgentKind = str
			}
		case "push_level":
			if str != "" {
				row.PushLevel = str
			}
		case "quick_prefix":
			row.QuickPrefix = str
		case "notify_target":
			row.NotifyTarget = str
		}
	}
}

// AddWatch persists a stream subscription so it survives restarts.
func (s *Store) AddWatch(sessionID, chatID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	now := time.Now().UTC().Unix()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]any{"chat_id": chatID}),
	}).Create(&dbmodel.WatchedSession{SessionID: sessionID, ChatID: chatID, AddedAt: now}).Error
}

func (s *Store) RemoveWatch(sessionID string) error {
	return s.db.Delete(&dbmodel.WatchedSession{}, "session_id = ?", sessionID).Error
}

// Watches lists persisted subscriptions oldest first.
func (s *Store) Watches() ([]Watch, error) {
	var rows []dbmodel.WatchedSession
	if err := s.db.Order("added_at ASC, session_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	watches := make([]Watch, 0, len(rows))
	for _, row := range rows {
		watches = append(watches, Watch{
			SessionID: row.SessionID,
			ChatID:    row.ChatID,
			AddedAt:   time.Unix(row.AddedAt, 0).UTC(),
		})
	}
	return watches, nil
}

// ChatFor returns the chat subscribed to a session, "" when none.
func (s *Store) ChatFor(sessionID string) (string, error) {
	var row dbmodel.WatchedSession
	err := s.db.First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.ChatID, nil
}

// RouteFor returns the delivery route for a session's notices: the
// subscribed chat and the target notices go to. The target is the chat's
// configured notify target when one is set, the chat itself otherwise.
// Both are "" when no chat watches the session.
func (s *Store) RouteFor(sessionID string) (chatID, target string, err error) {
	chatID, err = s.ChatFor(sessionID)
	if err != nil || chatID == "" {
		return chatID, "", err
	}
	state, err := s.Get(chatID)
	if err != nil {
		return chatID, "", err
	}
	target = state.NotifyTarget
	if target == "" {
		target = chatID
	}
	return chatID, target, nil
}

// Setting reads a key from the settings table, "" when absent.
func (s *Store) Setting(key string) (string, error) {
	var row dbmodel.Setting
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *Store) SetSetting(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	now := time.Now().UTC().Unix()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value, "updated_at": now}),
	}).Create(&dbmodel.Setting{Key: key, Value: value, UpdatedAt: now}).Error
}

func (s *Store) check(chatID string) error {
	if s == nil || s.db == nil {
		return errors.New("chat state store is not initialized")
	}
	if strings.TrimSpace(chatID) == "" {
		return errors.New("chat id is required")
	}
	return nil
}

func fromRow(row dbmodel.ChatState) State {
	return State{
		ChatID:       row.ChatID,
		SessionID:    row.SessionID,
		AgentKind:    row.AgentKind,
		PushLevel:    row.PushLevel,
		QuickPrefix:  row.QuickPrefix,
		NotifyTarget: row.NotifyTarget,
		UpdatedAt:    time.Unix(row.UpdatedAt, 0).UTC(),
	}
}
