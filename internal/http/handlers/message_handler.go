package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/http/middleware"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// HeaderIdempotencyReplayed marks a send answered from an earlier request
// with the same Idempotency-Key.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// SSE event names of the streaming send.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// SendMessageRequest is the JSON payload of a send.
type SendMessageRequest struct {
	// ConversationID continues a conversation; omit it to start one.
	ConversationID string `json:"conversationId" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// MarjaName binds a new conversation. Ignored when continuing.
	MarjaName string `json:"marjaName" example:"Ayatollah Sistani"`
	Message   string `json:"message"   example:"Is my fast valid if I travel after noon?"`
}

// ChunkEvent is the payload of a "chunk" SSE event.
type ChunkEvent struct {
	Text string `json:"text"`
}

// StreamError is the payload of an "error" SSE event.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handlers) bindSend(c *gin.Context) (services.SendInput, bool) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return services.SendInput{}, false
	}
	key, _ := middleware.GetIdempotencyKey(c)
	return services.SendInput{
		ConversationID: req.ConversationID,
		MarjaName:      req.MarjaName,
		Message:        req.Message,
		IdempotencyKey: key,
	}, true
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Appends the user message and the AI reply and debits one token, atomically. Without conversationId a conversation is created for marjaName. With an Idempotency-Key header a retry replays the first result without debiting again.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                        false  "Client-generated retry key"
// @Param       body             body    handlers.SendMessageRequest  true   "Message"
// @Success     200  {object}  domain.Conversation
// @Header      200  {string}  Idempotency-Replayed  "true when replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty message or missing marja"
// @Failure     402  {object}  handlers.ErrorResponse  "Not enough tokens"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Assistant unavailable"
// @Router      /messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	in, okIn := h.bindSend(c)
	if !okIn {
		return
	}
	res, err := h.svc.Messages.Send(c.Request.Context(), actor(c), in, nil)
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, res.Conversation)
}

// StreamMessage godoc
// @ID          streamMessage
// @Summary     Send a message (server-sent events)
// @Description Same transaction as POST /messages. The reply arrives as "chunk" events while it is generated, followed by one "done" event with the conversation or one "error" event. Errors raised before the first chunk are returned as a JSON envelope instead.
// @Tags        Messages
// @Accept      json
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                        false  "Client-generated retry key"
// @Param       body             body    handlers.SendMessageRequest  true   "Message"
// @Success     200  {string}  string  "event stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty message or missing marja"
// @Failure     402  {object}  handlers.ErrorResponse  "Not enough tokens"
// @Router      /messages/stream [post]
func (h *Handlers) StreamMessage(c *gin.Context) {
	in, okIn := h.bindSend(c)
	if !okIn {
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	emit := func(event string, data any) {
		start()
		c.SSEvent(event, data)
		c.Writer.Flush()
	}

	res, err := h.svc.Messages.Send(c.Request.Context(), actor(c), in, func(s string) {
		emit(EventChunk, ChunkEvent{Text: s})
	})
	if err != nil {
		if !started {
			failErr(c, err)
			return
		}
		e := classify(err)
		if e.status >= http.StatusInternalServerError {
			_ = c.Error(err)
			middleware.LoggerFrom(c).Error().Err(err).Str("code", e.code).Msg("stream aborted")
		}
		emit(EventError, StreamError{Code: e.code, Message: e.message})
		return
	}
	if res.Replayed && !started {
		c.Header(HeaderIdempotencyReplayed, "true")
	}
	emit(EventDone, res.Conversation)
}
