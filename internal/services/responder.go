package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/marja-chat-backend/internal/config"
)

// ReplyRequest is the input of one AI reply.
type ReplyRequest struct {
	Marja             string
	Prompt            string
	SystemInstruction string
	Temperature       float64
}

// Responder produces the AI reply for a user message. onChunk, when not
// nil, receives the reply incrementally; the returned string is always the
// full reply.
type Responder interface {
	Reply(ctx context.Context, req ReplyRequest, onChunk func(string)) (string, error)
}

// SimulatedReplyTemplate is the canned reply of SimulatedResponder.
const SimulatedReplyTemplate = "پاسخ شبیه‌سازی شده برای سوال شما در مورد \"%s\"."

// SimulatedResponder answers with a fixed template, streamed word by word.
type SimulatedResponder struct {
	// Delay is slept between chunks; zero streams immediately.
	Delay time.Duration
}

// Reply implements Responder.
func (r SimulatedResponder) Reply(ctx context.Context, req ReplyRequest, onChunk func(string)) (string, error) {
	reply := fmt.Sprintf(SimulatedReplyTemplate, req.Prompt)
	if onChunk == nil {
		return reply, nil
	}
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		onChunk(w)
		if r.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.Delay):
			}
		}
	}
	return reply, nil
}

// NewResponder builds the responder selected by cfg.Provider. The returned
// close function releases provider clients and is never nil.
func NewResponder(ctx context.Context, cfg config.AIConfig) (Responder, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case config.AIProviderSimulated, "":
		return SimulatedResponder{}, noop, nil
	case config.AIProviderOpenAI:
		return NewOpenAIResponder(cfg), noop, nil
	case config.AIProviderGemini:
		r, err := NewGeminiResponder(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// withTimeout bounds a provider call when a timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
