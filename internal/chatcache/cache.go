// Package chatcache is the client-side conversation cache used by chat
// front ends. A send is applied optimistically: the user message, an AI
// placeholder and a local token deduction appear before the server answers.
// Every send is tracked as pending until it is confirmed or failed; a failed
// send rolls back its placeholder and refunds its token exactly once.
package chatcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/marja-chat-backend/internal/client"
	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// State is the lifecycle of one send.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// LocalPrefix marks conversation ids the server has not assigned yet.
const LocalPrefix = "local-"

// Errors returned before any network call.
var (
	ErrEmptyMessage        = errors.New("chatcache: message is empty")
	ErrMarjaRequired       = errors.New("chatcache: marja is required for a new conversation")
	ErrInsufficientTokens  = errors.New("chatcache: no tokens left")
	ErrUnknownConversation = errors.New("chatcache: unknown conversation")
	ErrConversationBusy    = errors.New("chatcache: a send is already in flight for this conversation")
	ErrUnknownMessage      = errors.New("chatcache: unknown message")
	ErrNotFailed           = errors.New("chatcache: message has not failed")
)

// API is the subset of the HTTP client the cache drives.
type API interface {
	StreamMessage(ctx context.Context, in client.SendRequest, onChunk func(string)) (*domain.Conversation, error)
	ListConversations(ctx context.Context, page, pageSize int) (*client.ConversationPage, error)
	CurrentUser(ctx context.Context) (*domain.User, error)
}

// Pending describes one tracked send.
type Pending struct {
	MessageID      string
	PlaceholderID  string
	ConversationID string
	Marja          string
	Text           string
	State          State
	Err            error

	refunded bool
}

// Cache is safe for concurrent use. At most one send per conversation is in
// flight at a time.
type Cache struct {
	api      API
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	pageSize int
	titleLen int

	mu       sync.Mutex
	convs    []*domain.Conversation // most recent first
	active   string
	balance  int
	pending  map[string]*Pending // by user message id
	inflight map[string]*Pending // by conversation id
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger; the default discards.
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithIDs overrides the message and conversation id generator.
func WithIDs(gen func() string) Option { return func(c *Cache) { c.newID = gen } }

// WithPageSize sets how many conversations Refresh loads.
func WithPageSize(n int) Option { return func(c *Cache) { c.pageSize = n } }

// New returns an empty cache with a zero balance. Call Refresh to load the
// server state.
func New(api API, opts ...Option) *Cache {
	c := &Cache{
		api:      api,
		log:      zerolog.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
		pageSize: 50,
		titleLen: 30,
		pending:  map[string]*Pending{},
		inflight: map[string]*Pending{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Balance returns the local token balance.
func (c *Cache) Balance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Active returns the id of the conversation new sends go to.
func (c *Cache) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetActive selects a conversation; an empty id makes the next send start a
// new conversation.
func (c *Cache) SetActive(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" && c.findLocked(id) == nil {
		return ErrUnknownConversation
	}
	c.active = id
	return nil
}

// Conversations returns a copy of the cached conversations, most recent first.
func (c *Cache) Conversations() []domain.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Conversation, 0, len(c.convs))
	for _, cv := range c.convs {
		out = append(out, cloneConversation(cv))
	}
	return out
}

// Conversation returns a copy of one cached conversation.
func (c *Cache) Conversation(id string) (domain.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cv := c.findLocked(id)
	if cv == nil {
		return domain.Conversation{}, false
	}
	return cloneConversation(cv), true
}

// Pending returns the tracked state of the send that created messageID.
func (c *Cache) Pending(messageID string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[messageID]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Send posts text to conversationID, or to the active conversation when
// empty. Without an active conversation a local one bound to marja is
// created and replaced by the server copy on success. The reply text grows
// in the placeholder message while it streams.
func (c *Cache) Send(ctx context.Context, conversationID, marja, text string) (*domain.Conversation, error) {
	c.mu.Lock()
	p, err := c.beginLocked(conversationID, marja, text)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.run(ctx, p)
}

// Retry resubmits the text of a failed send as a fresh send with a new
// message id. The failed message is removed first.
func (c *Cache) Retry(ctx context.Context, messageID string) (*domain.Conversation, error) {
	c.mu.Lock()
	old, ok := c.pending[messageID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	if old.State != StateFailed {
		c.mu.Unlock()
		return nil, ErrNotFailed
	}
	p, err := c.beginLocked(old.ConversationID, old.Marja, old.Text)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if cv := c.findLocked(old.ConversationID); cv != nil {
		removeMessage(cv, old.MessageID)
	}
	delete(c.pending, messageID)
	c.mu.Unlock()

	c.log.Debug().Str("failed_id", messageID).Str("message_id", p.MessageID).Msg("retrying send")
	return c.run(ctx, p)
}

// Refresh reloads the balance and the first page of conversations from the
// server. Conversations that are still local, or have a send in flight, keep
// their cached copy. Sends in flight stay deducted from the new balance.
func (c *Cache) Refresh(ctx context.Context) error {
	me, err := c.api.CurrentUser(ctx)
	if err != nil {
		return err
	}
	page, err := c.api.ListConversations(ctx, 1, c.pageSize)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.balance = me.TokenBalance - len(c.inflight)
	if c.balance < 0 {
		c.balance = 0
	}

	keep := map[string]bool{}
	var next []*domain.Conversation
	for _, cv := range c.convs {
		if isLocal(cv.ID) || c.inflight[cv.ID] != nil {
			keep[cv.ID] = true
			next = append(next, cv)
		}
	}
	for i := range page.Conversations {
		sv := page.Conversations[i]
		if keep[sv.ID] {
			continue
		}
		next = append(next, &sv)
	}
	c.convs = next
	if c.active != "" && c.findLocked(c.active) == nil {
		c.active = ""
	}
	return nil
}

func (c *Cache) beginLocked(conversationID, marja, text string) (*Pending, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if c.balance <= 0 {
		return nil, ErrInsufficientTokens
	}

	id := conversationID
	if id == "" {
		id = c.active
	}
	var cv *domain.Conversation
	if id != "" {
		if cv = c.findLocked(id); cv == nil {
			return nil, ErrUnknownConversation
		}
		if c.inflight[id] != nil {
			return nil, ErrConversationBusy
		}
		marja = cv.Marja
	} else {
		marja = strings.TrimSpace(marja)
		if marja == "" {
			return nil, ErrMarjaRequired
		}
		now := c.now()
		cv = &domain.Conversation{
			ID:        LocalPrefix + c.newID(),
			Marja:     marja,
			Title:     localTitle(text, c.titleLen),
			CreatedAt: now,
			UpdatedAt: now,
		}
		c.convs = append([]*domain.Conversation{cv}, c.convs...)
	}

	now := c.now()
	p := &Pending{
		MessageID:      c.newID(),
		PlaceholderID:  c.newID(),
		ConversationID: cv.ID,
		Marja:          marja,
		Text:           text,
		State:          StatePending,
	}
	cv.Messages = append(cv.Messages,
		domain.Message{ID: p.MessageID, ConversationID: cv.ID, Sender: domain.SenderUser, Text: text, Timestamp: now, Status: domain.MessageSending},
		domain.Message{ID: p.PlaceholderID, ConversationID: cv.ID, Sender: domain.SenderAI, Timestamp: now.Add(time.Millisecond), Status: domain.MessageSending},
	)
	cv.UpdatedAt = now
	c.moveToFrontLocked(cv.ID)

	c.balance--
	c.pending[p.MessageID] = p
	c.inflight[cv.ID] = p
	c.active = cv.ID
	return p, nil
}

func (c *Cache) run(ctx context.Context, p *Pending) (*domain.Conversation, error) {
	req := client.SendRequest{Message: p.Text, IdempotencyKey: p.MessageID}
	if isLocal(p.ConversationID) {
		req.MarjaName = p.Marja
	} else {
		req.ConversationID = p.ConversationID
	}

	conv, err := c.api.StreamMessage(ctx, req, func(s string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cv := c.findLocked(p.ConversationID); cv != nil {
			if m := findMessage(cv, p.PlaceholderID); m != nil {
				m.Text += s
			}
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failLocked(p, err)
		return nil, err
	}
	c.confirmLocked(p, conv)
	out := cloneConversation(conv)
	return &out, nil
}

func (c *Cache) confirmLocked(p *Pending, server *domain.Conversation) {
	delete(c.inflight, p.ConversationID)
	p.State = StateConfirmed

	// The server copy carries the real ids, the title and every message.
	// Failed messages exist only locally and are carried over.
	prev := c.findLocked(p.ConversationID)
	sv := cloneConversation(server)
	if prev != nil {
		for _, m := range prev.Messages {
			if m.Status == domain.MessageError {
				sv.Messages = append(sv.Messages, m)
			}
		}
	}
	c.replaceLocked(p.ConversationID, &sv)
	if c.active == p.ConversationID {
		c.active = sv.ID
	}
	for _, other := range c.pending {
		if other.ConversationID == p.ConversationID {
			other.ConversationID = sv.ID
		}
	}
	c.log.Debug().Str("message_id", p.MessageID).Str("conversation_id", sv.ID).Msg("send confirmed")
}

func (c *Cache) failLocked(p *Pending, err error) {
	delete(c.inflight, p.ConversationID)
	p.State = StateFailed
	p.Err = err
	if cv := c.findLocked(p.ConversationID); cv != nil {
		removeMessage(cv, p.PlaceholderID)
		if m := findMessage(cv, p.MessageID); m != nil {
			m.Status = domain.MessageError
		}
	}
	if !p.refunded {
		p.refunded = true
		c.balance++
	}
	c.log.Debug().Err(err).Str("message_id", p.MessageID).Msg("send failed, token refunded")
}

func (c *Cache) findLocked(id string) *domain.Conversation {
	for _, cv := range c.convs {
		if cv.ID == id {
			return cv
		}
	}
	return nil
}

func (c *Cache) replaceLocked(id string, cv *domain.Conversation) {
	// A refreshed page may already hold the server id; drop that copy.
	out := c.convs[:0]
	for _, x := range c.convs {
		if x.ID == cv.ID && x.ID != id {
			continue
		}
		out = append(out, x)
	}
	c.convs = out
	for i, x := range c.convs {
		if x.ID == id {
			c.convs[i] = cv
			return
		}
	}
	c.convs = append([]*domain.Conversation{cv}, c.convs...)
}

func (c *Cache) moveToFrontLocked(id string) {
	for i, cv := range c.convs {
		if cv.ID == id {
			copy(c.convs[1:i+1], c.convs[:i])
			c.convs[0] = cv
			return
		}
	}
}

func findMessage(cv *domain.Conversation, id string) *domain.Message {
	for i := range cv.Messages {
		if cv.Messages[i].ID == id {
			return &cv.Messages[i]
		}
	}
	return nil
}

func removeMessage(cv *domain.Conversation, id string) {
	out := cv.Messages[:0]
	for _, m := range cv.Messages {
		if m.ID != id {
			out = append(out, m)
		}
	}
	cv.Messages = out
}

func cloneConversation(cv *domain.Conversation) domain.Conversation {
	out := *cv
	out.Messages = append([]domain.Message(nil), cv.Messages...)
	return out
}

func isLocal(id string) bool { return strings.HasPrefix(id, LocalPrefix) }

// localTitle is shown until the server title arrives.
func localTitle(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}
