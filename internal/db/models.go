package db

// ChatState is the per-chat controller state: which session the chat is
// bound to and how chatty the bridge should be.
type ChatState struct {
	ChatID       string `gorm:"column:chat_id;primaryKey"`
	SessionID    string `gorm:"column:session_id;not null;default:''"`
	AgentKind    string `gorm:"column:agent_kind;not null;default:'claude'"`
	PushLevel    string `gorm:"column:push_level;not null;default:'summary'"`
	QuickPrefix  string `gorm:"column:quick_prefix;not null;default:''"`
	NotifyTarget string `gorm:"column:notify_target;not null;default:''"`
	UpdatedAt    int64  `gorm:"column:updated_at;not null;default:0"`
}

func (ChatState) TableName() string { return "chat_state" }

// WatchedSession records a session whose event stream should be reattached
// after a restart.
type WatchedSession struct {
	SessionID string `gorm:"column:session_id;primaryKey"`
	ChatID    string `gorm:"column:chat_id;not null;default:''"`
	AddedAt   int64  `gorm:"column:added_at;not null;default:0"`
}

func (WatchedSession) TableName() string { return "watched_sessions" }

type Setting struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Setting) TableName() string { return "settings" }
