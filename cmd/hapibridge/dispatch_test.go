package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShortPassthrough(t *testing.T) {
	chunks := splitMessage("hello", maxChunkLen)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitMessagePrefersLineBoundaries(t *testing.T) {
	lineA := strings.Repeat("a", 30)
	lineB := strings.Repeat("b", 30)
	lineC := strings.Repeat("c", 30)
	text := lineA + "\n" + lineB + "\n" + lineC

	chunks := splitMessage(text, 70)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d: %v", len(chunks), chunks)
	}
	if chunks[0] != lineA+"\n"+lineB {
		t.Fatalf("first chunk = %q", chunks[0])
	}
	if chunks[1] != lineC {
		t.Fatalf("second chunk = %q", chunks[1])
	}
}

func TestSplitMessageHardCutsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := splitMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for i, c := range chunks[:2] {
		if len(c) != 100 {
			t.Fatalf("chunk %d len = %d", i, len(c))
		}
	}
	if len(chunks[2]) != 50 {
		t.Fatalf("tail len = %d", len(chunks[2]))
	}
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	// 3-byte runes with a limit that falls mid-rune: the cut backs off to
	// the previous boundary instead of emitting invalid UTF-8.
	text := strings.Repeat("世", 10)
	chunks := splitMessage(text, 10)
	total := ""
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 10 {
			t.Fatalf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		total += c
	}
	if total != text {
		t.Fatalf("reassembled = %q", total)
	}
}

func TestSplitMessageNeverExceedsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("line", i%13+1))
		b.WriteByte('\n')
	}
	for _, c := range splitMessage(b.String(), 300) {
		if len(c) > 300 {
			t.Fatalf("chunk exceeds limit: %d bytes", len(c))
		}
	}
}
