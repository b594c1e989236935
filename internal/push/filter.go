package push

import (
	"fmt"
	"strings"
	"sync"

	"hapibridge/internal/hapi"
	"hapibridge/internal/stream"
)

// Level controls how much session traffic reaches the chat.
type Level int

const (
	// Silence forwards only actionable events (approvals and questions).
	Silence Level = iota
	// Summary buffers routine traffic into a digest that flushes when the
	// agent pauses.
	Summary
	// Debug forwards every event immediately, echoes included.
	Debug
)

func (l Level) String() string {
	switch l {
	case Silence:
		return "silence"
	case Debug:
		return "debug"
	default:
		return "summary"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silence", "silent", "quiet":
		return Silence, nil
	case "summary", "":
		return Summary, nil
	case "debug", "verbose", "all":
		return Debug, nil
	}
	return Summary, fmt.Errorf("unknown push level %q", s)
}

// Notice is one message the dispatcher should send to the chat.
type Notice struct {
	Text     string
	Digested bool
}

// Filter decides which classified events turn into chat notices. It keeps a
// per-session digest buffer but no other state; suppression that depends on
// approval state is the caller's concern.
type Filter struct {
	mu           sync.Mutex
	defaultLevel Level
	levels       map[string]Level
	digests      map[string][]string
}

func NewFilter(defaultLevel Level) *Filter {
	return &Filter{
		defaultLevel: defaultLevel,
		levels:       map[string]Level{},
		digests:      map[string][]string{},
	}
}

// SetDefault changes the level applied to sessions without an override.
func (f *Filter) SetDefault(level Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultLevel = level
}

// SetLevel overrides the level for one session. Dropping to Silence discards
// any buffered digest.
func (f *Filter) SetLevel(sessionID string, level Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[sessionID] = level
	if level == Silence {
		delete(f.digests, sessionID)
	}
}

func (f *Filter) LevelFor(sessionID string) Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level, ok := f.levels[sessionID]; ok {
		return level
	}
	return f.defaultLevel
}

// Forget drops all per-session state.
func (f *Filter) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.levels, sessionID)
	delete(f.digests, sessionID)
}

// Decide maps one classified event to zero or more notices. Approval and
// question requests always pass regardless of level since they block the
// agent. At Summary, messages and tool calls accumulate in the digest and
// flush when the agent pauses or resets.
func (f *Filter) Decide(sessionID string, ev stream.Event) []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	level := f.defaultLevel
	if l, ok := f.levels[sessionID]; ok {
		level = l
	}

	switch ev.Kind {
	case stream.KindPermissionRequest:
		text := fmt.Sprintf("Permission needed: %s", ev.Tool)
		if ev.ArgsSummary != "" {
			text += "\n" + ev.ArgsSummary
		}
		return f.withFlush(sessionID, Notice{Text: text})
	case stream.KindQuestionRequest:
		text := ev.Title
		if text == "" {
			text = "The agent has a question"
		}
		if len(ev.Questions) > 0 {
			text += "\n" + formatQuestion(ev.Questions[0], 1, len(ev.Questions))
		}
		return f.withFlush(sessionID, Notice{Text: text})
	case stream.KindMessage:
		switch level {
		case Debug:
			return []Notice{{Text: ev.Text}}
		case Summary:
			f.buffer(sessionID, ev.Text)
		}
		return nil
	case stream.KindToolCall:
		line := "> " + ev.ToolName
		if ev.ArgsSummary != "" {
			line += " " + ev.ArgsSummary
		}
		switch level {
		case Debug:
			return []Notice{{Text: line}}
		case Summary:
			f.buffer(sessionID, line)
		}
		return nil
	case stream.KindUserEcho, stream.KindSystemNotice:
		if level == Debug {
			return []Notice{{Text: ev.Text}}
		}
		return nil
	case stream.KindSessionReset:
		return f.flushLocked(sessionID)
	case stream.KindWaitingInput:
		// The waiting notice passes at every level; it is the one signal
		// that the agent is blocked on the operator.
		return f.withFlush(sessionID, Notice{Text: "Waiting for your input."})
	}
	return nil
}

// Flush forces the session's digest out, if any.
func (f *Filter) Flush(sessionID string) []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked(sessionID)
}

func (f *Filter) withFlush(sessionID string, n Notice) []Notice {
	return append(f.flushLocked(sessionID), n)
}

func (f *Filter) buffer(sessionID, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	f.digests[sessionID] = append(f.digests[sessionID], line)
}

func (f *Filter) flushLocked(sessionID string) []Notice {
	lines := f.digests[sessionID]
	if len(lines) == 0 {
		return nil
	}
	delete(f.digests, sessionID)
	return []Notice{{Text: strings.Join(lines, "\n"), Digested: true}}
}

func formatQuestion(q hapi.Question, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d/%d: %s", index, total, q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, opt)
	}
	if q.AllowsCustomInput {
		b.WriteString("\n  (or reply with your own answer)")
	}
	return b.String()
}
