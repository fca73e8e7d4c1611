package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tbourn/marja-chat-backend/internal/config"
)

const defaultGeminiModel = "gemini-1.5-flash"

// geminiStream yields successive responses until iterator.Done.
type geminiStream interface {
	Next() (*genai.GenerateContentResponse, error)
}

// GeminiResponder streams replies from Google's Gemini API.
type GeminiResponder struct {
	client  *genai.Client
	model   string
	timeout time.Duration

	// open starts a stream; replaced in tests.
	open func(ctx context.Context, req ReplyRequest) geminiStream
}

// NewGeminiResponder connects a Gemini client with the configured API key.
func NewGeminiResponder(ctx context.Context, cfg config.AIConfig) (*GeminiResponder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	r := &GeminiResponder{client: client, model: cfg.Model, timeout: cfg.Timeout}
	if r.model == "" {
		r.model = defaultGeminiModel
	}
	r.open = r.generate
	return r, nil
}

func (r *GeminiResponder) generate(ctx context.Context, req ReplyRequest) geminiStream {
	m := r.client.GenerativeModel(r.model)
	if req.SystemInstruction != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemInstruction))
	}
	m.SetTemperature(float32(req.Temperature))
	return m.GenerateContentStream(ctx, genai.Text(req.Prompt))
}

// Reply implements Responder.
func (r *GeminiResponder) Reply(ctx context.Context, req ReplyRequest, onChunk func(string)) (string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	it := r.open(ctx, req)
	var b strings.Builder
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", err
		}
		chunk := geminiText(resp)
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("empty completion")
	}
	return b.String(), nil
}

// Close releases the client.
func (r *GeminiResponder) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
