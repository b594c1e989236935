package push

import (
	"strings"
	"testing"

	"hapibridge/internal/hapi"
	"hapibridge/internal/stream"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"silence": Silence,
		"quiet":   Silence,
		"summary": Summary,
		"":        Summary,
		"debug":   Debug,
		"verbose": Debug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSilenceOnlyPassesActionable(t *testing.T) {
	f := NewFilter(Silence)
	if n := f.Decide("s1", stream.Event{Kind: stream.KindMessage, Text: "hi"}); len(n) != 0 {
		t.Fatalf("message leaked at silence: %+v", n)
	}
	if n := f.Decide("s1", stream.Event{Kind: stream.KindToolCall, ToolName: "Bash"}); len(n) != 0 {
		t.Fatalf("tool call leaked at silence: %+v", n)
	}
	n := f.Decide("s1", stream.Event{Kind: stream.KindPermissionRequest, Tool: "Bash", ArgsSummary: `{"command":"ls"}`})
	if len(n) != 1 || !strings.Contains(n[0].Text, "Bash") {
		t.Fatalf("permission request blocked at silence: %+v", n)
	}
}

func TestSilencePassesWaitingNotice(t *testing.T) {
	f := NewFilter(Silence)
	n := f.Decide("s1", stream.Event{Kind: stream.KindWaitingInput})
	if len(n) != 1 || n[0].Text != "Waiting for your input." {
		t.Fatalf("waiting notice at silence: %+v", n)
	}
}

func TestSummaryBuffersUntilPause(t *testing.T) {
	f := NewFilter(Summary)
	if n := f.Decide("s1", stream.Event{Kind: stream.KindMessage, Text: "working on it"}); len(n) != 0 {
		t.Fatalf("summary pushed immediately: %+v", n)
	}
	if n := f.Decide("s1", stream.Event{Kind: stream.KindToolCall, ToolName: "Edit", ArgsSummary: `{"file":"a.go"}`}); len(n) != 0 {
		t.Fatalf("summary pushed immediately: %+v", n)
	}

	n := f.Decide("s1", stream.Event{Kind: stream.KindWaitingInput})
	if len(n) != 2 {
		t.Fatalf("expected digest + waiting notice, got %+v", n)
	}
	if !n[0].Digested || !strings.Contains(n[0].Text, "working on it") || !strings.Contains(n[0].Text, "> Edit") {
		t.Fatalf("digest = %+v", n[0])
	}
	if n[1].Text != "Waiting for your input." {
		t.Fatalf("notice = %+v", n[1])
	}

	// Digest is cleared after the flush.
	if n := f.Decide("s1", stream.Event{Kind: stream.KindSessionReset}); len(n) != 0 {
		t.Fatalf("stale digest flushed again: %+v", n)
	}
}

func TestPermissionRequestFlushesDigestFirst(t *testing.T) {
	f := NewFilter(Summary)
	f.Decide("s1", stream.Event{Kind: stream.KindMessage, Text: "step one"})
	n := f.Decide("s1", stream.Event{Kind: stream.KindPermissionRequest, Tool: "Bash"})
	if len(n) != 2 {
		t.Fatalf("expected digest then request, got %+v", n)
	}
	if !n[0].Digested || !strings.Contains(n[1].Text, "Permission needed") {
		t.Fatalf("order wrong: %+v", n)
	}
}

func TestQuestionRequestShowsFirstQuestion(t *testing.T) {
	f := NewFilter(Summary)
	ev := stream.Event{
		Kind:  stream.KindQuestionRequest,
		Title: "Pick a migration strategy",
		Questions: []hapi.Question{
			{Prompt: "Which database?", Options: []string{"sqlite", "postgres"}, AllowsCustomInput: true},
			{Prompt: "Run now?"},
		},
	}
	n := f.Decide("s1", ev)
	if len(n) != 1 {
		t.Fatalf("notices = %+v", n)
	}
	text := n[0].Text
	for _, want := range []string{"Pick a migration strategy", "Question 1/2", "Which database?", "1. sqlite", "own answer"} {
		if !strings.Contains(text, want) {
			t.Fatalf("notice missing %q:\n%s", want, text)
		}
	}
}

func TestDebugForwardsEverything(t *testing.T) {
	f := NewFilter(Summary)
	f.SetLevel("s1", Debug)
	if got := f.LevelFor("s1"); got != Debug {
		t.Fatalf("LevelFor = %v", got)
	}
	if n := f.Decide("s1", stream.Event{Kind: stream.KindMessage, Text: "hi"}); len(n) != 1 || n[0].Text != "hi" {
		t.Fatalf("message at debug: %+v", n)
	}
	if n := f.Decide("s1", stream.Event{Kind: stream.KindUserEcho, Text: "echo"}); len(n) != 1 {
		t.Fatalf("echo at debug: %+v", n)
	}
	// Other sessions keep the default level.
	if n := f.Decide("s2", stream.Event{Kind: stream.KindUserEcho, Text: "echo"}); len(n) != 0 {
		t.Fatalf("echo leaked at summary: %+v", n)
	}
}

func TestSwitchingToSilenceDropsDigest(t *testing.T) {
	f := NewFilter(Summary)
	f.Decide("s1", stream.Event{Kind: stream.KindMessage, Text: "buffered"})
	f.SetLevel("s1", Silence)
	if n := f.Flush("s1"); len(n) != 0 {
		t.Fatalf("digest survived silence switch: %+v", n)
	}
}
