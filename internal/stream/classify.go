package stream

import (
	"bytes"
	"encoding/json"

	"hapibridge/internal/hapi"
)

const argsSummaryMax = 160

// rawFrame is the decodable surface of one stream frame. The remote service
// owns the format; anything that does not match a recognized shape falls
// back to a system notice so a bad frame never aborts the read loop.
type rawFrame struct {
	Type string `json:"type"`
	Data struct {
		Role      string          `json:"role"`
		Text      string          `json:"text"`
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
		RequestID string          `json:"requestId"`
		Title     string          `json:"title"`
		Questions []rawQuestion   `json:"questions"`
	} `json:"data"`
}

type rawQuestion struct {
	Prompt            string   `json:"prompt"`
	Options           []string `json:"options"`
	AllowsCustomInput bool     `json:"allowsCustomInput"`
}

// Classify decodes one raw frame into a tagged event. It is pure and total:
// malformed or unknown payloads classify as a system notice.
func Classify(raw []byte) Event {
	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return unrecognized()
	}

	switch frame.Type {
	case "message":
		if frame.Data.Role == "user" {
			return Event{Kind: KindUserEcho, Text: frame.Data.Text}
		}
		return Event{Kind: KindMessage, Text: frame.Data.Text}

	case "tool-call":
		return Event{
			Kind:        KindToolCall,
			ToolName:    frame.Data.Tool,
			ArgsSummary: summarizeArgs(frame.Data.Arguments),
		}

	case "system":
		return Event{Kind: KindSystemNotice, Text: frame.Data.Text}

	case "permission-request":
		if frame.Data.RequestID == "" {
			return unrecognized()
		}
		ev := Event{
			RequestID: frame.Data.RequestID,
			Tool:      frame.Data.Tool,
			Title:     frame.Data.Title,
		}
		// A payload carrying structured questions diverges here: questions
		// are answered step by step, plain permissions are bulk-approvable.
		if len(frame.Data.Questions) > 0 {
			ev.Kind = KindQuestionRequest
			ev.Questions = convertQuestions(frame.Data.Questions)
		} else {
			ev.Kind = KindPermissionRequest
			ev.ArgsSummary = summarizeArgs(frame.Data.Arguments)
		}
		return ev

	case "session-reset":
		return Event{Kind: KindSessionReset}

	case "awaiting-input":
		return Event{Kind: KindWaitingInput}

	default:
		return unrecognized()
	}
}

func unrecognized() Event {
	return Event{Kind: KindSystemNotice, Text: "unrecognized event"}
}

func convertQuestions(raw []rawQuestion) []hapi.Question {
	out := make([]hapi.Question, 0, len(raw))
	for _, q := range raw {
		out = append(out, hapi.Question{
			Prompt:            q.Prompt,
			Options:           q.Options,
			AllowsCustomInput: q.AllowsCustomInput,
		})
	}
	return out
}

// summarizeArgs renders tool arguments as a compact single-line preview.
func summarizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return truncate(string(raw), argsSummaryMax)
	}
	return truncate(buf.String(), argsSummaryMax)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
