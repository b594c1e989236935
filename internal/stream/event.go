package stream

import "hapibridge/internal/hapi"

// EventKind tags a classified stream event. Exactly one kind is set per
// event; fields not belonging to the kind stay zero.
type EventKind int

const (
	KindSystemNotice EventKind = iota
	KindMessage
	KindToolCall
	KindUserEcho
	KindPermissionRequest
	KindQuestionRequest
	KindSessionReset
	KindWaitingInput
)

func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindToolCall:
		return "tool-call"
	case KindUserEcho:
		return "user-echo"
	case KindPermissionRequest:
		return "permission-request"
	case KindQuestionRequest:
		return "question-request"
	case KindSessionReset:
		return "session-reset"
	case KindWaitingInput:
		return "waiting-input"
	default:
		return "system-notice"
	}
}

// Event is one classified frame from a session stream.
type Event struct {
	Kind EventKind

	// Message, SystemNotice, UserEcho.
	Text string

	// ToolCall.
	ToolName    string
	ArgsSummary string

	// PermissionRequest and QuestionRequest.
	RequestID string
	Tool      string
	Title     string
	Questions []hapi.Question
}
