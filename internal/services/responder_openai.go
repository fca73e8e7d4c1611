package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/marja-chat-backend/internal/config"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIResponder streams chat completions from the OpenAI API.
type OpenAIResponder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIResponder builds a responder from cfg.
func NewOpenAIResponder(cfg config.AIConfig) *OpenAIResponder {
	return newOpenAIResponder(openai.DefaultConfig(cfg.APIKey), cfg)
}

func newOpenAIResponder(oc openai.ClientConfig, cfg config.AIConfig) *OpenAIResponder {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIResponder{client: openai.NewClientWithConfig(oc), model: model, timeout: cfg.Timeout}
}

// Reply implements Responder.
func (r *OpenAIResponder) Reply(ctx context.Context, req ReplyRequest, onChunk func(string)) (string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
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
