package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// ErrStreamTruncated is returned when the event stream ends without a
// done or error event.
var ErrStreamTruncated = errors.New("client: stream ended before done")

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// StreamMessage posts to /messages/stream and calls onChunk with each
// reply fragment in order. It returns the committed conversation from the
// done event. An error event is returned as *APIError with Status 0 and the
// server's code.
func (c *Client) StreamMessage(ctx context.Context, in SendRequest, onChunk func(string)) (*domain.Conversation, error) {
	hdr := in.header()
	if hdr == nil {
		hdr = http.Header{}
	}
	hdr.Set("Accept", "text/event-stream")

	req, err := c.newRequest(ctx, http.MethodPost, "/messages/stream", in, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Failures before the first event come back as a JSON envelope.
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var conv *domain.Conversation
	err = ReadEvents(resp.Body, func(ev Event) error {
		switch ev.Name {
		case "chunk":
			var p struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			if onChunk != nil {
				onChunk(p.Text)
			}
		case "done":
			conv = new(domain.Conversation)
			if err := json.Unmarshal(ev.Data, conv); err != nil {
				return fmt.Errorf("decode done: %w", err)
			}
			return io.EOF
		case "error":
			var p struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				return fmt.Errorf("decode error event: %w", err)
			}
			return &APIError{Code: p.Code, Message: p.Message, RequestID: resp.Header.Get("X-Request-ID")}
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if conv == nil {
		return nil, ErrStreamTruncated
	}
	return conv, nil
}

// ReadEvents parses an event stream and calls fn per event. It stops at the
// end of r or at the first error fn returns, which is passed through.
// Comment lines and unknown fields are skipped. Lines have no length limit:
// the done event carries a whole conversation on one data line.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	br := bufio.NewReader(r)

	var (
		name string
		data []string
	)
	dispatch := func() error {
		if name == "" && len(data) == 0 {
			return nil
		}
		ev := Event{Name: name, Data: []byte(strings.Join(data, "\n"))}
		if ev.Name == "" {
			ev.Name = "message"
		}
		name, data = "", nil
		return fn(ev)
	}

	for {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if raw == "" && readErr == io.EOF {
			break
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	return dispatch()
}
