package hapi

import "encoding/json"

// Session is the remote directory's view of one agent conversation.
type Session struct {
	ID                   string          `json:"id"`
	Active               bool            `json:"active"`
	Thinking             bool            `json:"thinking"`
	PendingRequestsCount int             `json:"pendingRequestsCount"`
	PermissionMode       string          `json:"permissionMode"`
	ModelMode            string          `json:"modelMode"`
	Metadata             SessionMetadata `json:"metadata"`
	AgentState           *AgentState     `json:"agentState,omitempty"`
}

type SessionMetadata struct {
	Flavor  string  `json:"flavor"`
	Path    string  `json:"path"`
	Summary Summary `json:"summary"`
}

type Summary struct {
	Text string `json:"text"`
}

// AgentState carries the outstanding approval requests keyed by request ID.
type AgentState struct {
	Requests map[string]RequestPayload `json:"requests"`
}

// RequestPayload is one outstanding permission request as the remote service
// reports it. A payload carrying structured questions requires step-through
// answering instead of a plain approve/deny.
type RequestPayload struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Title     string          `json:"title,omitempty"`
	Questions []Question      `json:"questions,omitempty"`
}

type Question struct {
	Prompt            string   `json:"prompt"`
	Options           []string `json:"options"`
	AllowsCustomInput bool     `json:"allowsCustomInput"`
}

type Machine struct {
	ID       string          `json:"id"`
	Active   bool            `json:"active"`
	Metadata MachineMetadata `json:"metadata"`
}

type MachineMetadata struct {
	Host     string `json:"host"`
	Platform string `json:"platform"`
}

// SpawnRequest describes a new session to create on a machine.
type SpawnRequest struct {
	Directory    string `json:"directory"`
	Agent        string `json:"agent"`
	SessionType  string `json:"sessionType"`
	Yolo         bool   `json:"yolo"`
	WorktreeName string `json:"worktreeName,omitempty"`
}
