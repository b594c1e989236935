package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"hapibridge/internal/push"
)

// maxChunkLen is the largest message the chat transport accepts.
const maxChunkLen = 4200

// Notifier is the outward chat surface. The bridge ships a logging
// implementation; platform adapters plug in here.
type Notifier interface {
	Notify(ctx context.Context, chatID, noticeID, text string) error
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(ctx context.Context, chatID, noticeID, text string) error {
	n.logger.Info("notify", "chat", chatID, "notice", noticeID, "text", text)
	return nil
}

// dispatcher fans filter output to the notifier, chunking long texts.
// Delivery is best effort: a failed chunk is logged and dropped.
type dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

func (d *dispatcher) deliver(ctx context.Context, chatID string, notices []push.Notice) {
	for _, notice := range notices {
		noticeID := uuid.NewString()
		for _, chunk := range splitMessage(notice.Text, maxChunkLen) {
			if err := d.notifier.Notify(ctx, chatID, noticeID, chunk); err != nil {
				d.logger.Warn("notify failed", "chat", chatID, "error", err)
				break
			}
		}
	}
}

// splitMessage splits text into chunks of at most limit bytes, cutting on
// line boundaries when any line break falls inside the window.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			// Back off to a rune boundary so a hard cut never splits a
			// multibyte character.
			for cut > 0 && (text[cut]&0xC0) == 0x80 {
				cut--
			}
			// Invalid UTF-8 all the way down: cut hard anyway.
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
