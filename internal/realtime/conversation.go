package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

const (
	// TypingIdle is how long after the last keystroke stopTyping is sent.
	TypingIdle = 2 * time.Second
	// DefaultHistoryLimit is the page size loaded when a conversation opens.
	DefaultHistoryLimit = 50
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("realtime: message text is empty")

// MessageAPI is the REST side of the chat: history, sending and read marks.
// The sender is the authenticated caller.
type MessageAPI interface {
	History(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, text string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// ConversationOption customises a Conversation.
type ConversationOption func(*Conversation)

// WithClock sets the clock driving the typing idle timer.
func WithClock(c Clock) ConversationOption {
	return func(cv *Conversation) {
		if c != nil {
			cv.clock = c
		}
	}
}

// WithOnChange registers a callback run after the message list, draft or
// typing flags change. It runs without locks held.
func WithOnChange(fn func()) ConversationOption {
	return func(cv *Conversation) { cv.onChange = fn }
}

// WithHistoryLimit sets the page size loaded on open and on resync.
func WithHistoryLimit(n int) ConversationOption {
	return func(cv *Conversation) {
		if n > 0 {
			cv.historyLimit = n
		}
	}
}

// Conversation is one open chat session: the message list for a single
// conversation kept deduplicated, ordered and status-monotonic, the draft and
// both sides' typing state.
type Conversation struct {
	id           string
	self         models.Identity
	m            *Manager
	api          MessageAPI
	binder       *Binder
	clock        Clock
	onChange     func()
	historyLimit int

	mu        sync.Mutex
	messages  []models.Message
	index     map[string]int
	early     map[string]models.MessageStatus
	draft     string
	typing    bool
	typingGen uint64
	idle      Timer
	peers     map[string]bool
	reading   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenConversation joins the conversation room, loads the latest history and
// marks incoming messages read.
func OpenConversation(ctx context.Context, m *Manager, api MessageAPI, conversationID string, opts ...ConversationOption) (*Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("open conversation: empty id")
	}
	bg, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		id:           conversationID,
		self:         m.Identity(),
		m:            m,
		api:          api,
		binder:       NewBinder(m),
		clock:        SystemClock,
		historyLimit: DefaultHistoryLimit,
		index:        make(map[string]int),
		early:        make(map[string]models.MessageStatus),
		peers:        make(map[string]bool),
		ctx:          bg,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger := m.Logger()
	c.binder.Bind(protocol.EventReceiveMessage, Handle(logger, c.onMessage))
	c.binder.Bind(protocol.EventMessageDelivered, Handle(logger, func(p protocol.ReceiptPayload) {
		c.onReceipt(p, models.MessageStatusDelivered)
	}))
	c.binder.Bind(protocol.EventMessageRead, Handle(logger, func(p protocol.ReceiptPayload) {
		c.onReceipt(p, models.MessageStatusRead)
	}))
	c.binder.Bind(protocol.EventUserTyping, Handle(logger, func(p protocol.TypingPayload) {
		c.onPeerTyping(p, true)
	}))
	c.binder.Bind(protocol.EventUserStoppedTyping, Handle(logger, func(p protocol.TypingPayload) {
		c.onPeerTyping(p, false)
	}))
	c.binder.BindState(c.stateChanged)
	c.binder.Join(ConversationRoom(conversationID))

	if err := c.loadHistory(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.MarkRead(ctx); err != nil {
		logger.Printf("conversation %s: mark read: %v", conversationID, err)
	}
	return c, nil
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Messages returns a copy of the ordered message list.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Message returns the message with id, if loaded.
func (c *Conversation) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return models.Message{}, false
	}
	return c.messages[i], true
}

// Draft returns the unsent composer text.
func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Typing reports whether the local user is currently flagged as typing.
func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// PeerTyping reports whether any other member is typing.
func (c *Conversation) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, on := range c.peers {
		if on {
			return true
		}
	}
	return false
}

// TextChanged records the composer text and drives the typing signal: typing
// goes out on the idle to active edge, stopTyping after TypingIdle without
// input or as soon as the text is cleared.
func (c *Conversation) TextChanged(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.draft = text
	if text == "" {
		stop := c.stopTypingLocked()
		c.mu.Unlock()
		if stop {
			c.emitTyping(protocol.EventStopTyping)
		}
		c.changed()
		return
	}

	start := !c.typing
	c.typing = true
	if c.idle != nil {
		c.idle.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.idle = c.clock.AfterFunc(TypingIdle, func() { c.idleExpired(gen) })
	c.mu.Unlock()

	if start {
		c.emitTyping(protocol.EventTyping)
	}
	c.changed()
}

// Send clears the draft and posts text. The message is added to the list when
// the server echoes it back on receiveMessage. On failure the draft is
// restored, unless it was edited meanwhile, and the error returned.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	c.draft = ""
	stop := c.stopTypingLocked()
	c.mu.Unlock()
	if stop {
		c.emitTyping(protocol.EventStopTyping)
	}
	c.changed()

	if _, err := c.api.SendMessage(ctx, c.id, text); err != nil {
		c.mu.Lock()
		if c.draft == "" {
			c.draft = text
		}
		c.mu.Unlock()
		c.changed()
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// MarkRead marks every incoming message read. It does nothing when there is
// nothing unread.
func (c *Conversation) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	var unread []string
	for _, msg := range c.messages {
		if msg.SenderID != c.self.ID && msg.Status != models.MessageStatusRead {
			unread = append(unread, msg.ID)
		}
	}
	c.mu.Unlock()
	if len(unread) == 0 {
		return nil
	}

	if err := c.api.MarkConversationRead(ctx, c.id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	c.mu.Lock()
	for _, id := range unread {
		if i, ok := c.index[id]; ok {
			c.messages[i].Status, _ = c.messages[i].Status.Advance(models.MessageStatusRead)
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Close leaves the room, drops every handler and timer and, when the local
// user was typing, sends stopTyping.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop := c.stopTypingLocked()
	c.mu.Unlock()

	if stop {
		c.emitTyping(protocol.EventStopTyping)
	}
	c.cancel()
	c.binder.Close()
	c.wg.Wait()
}

func (c *Conversation) loadHistory(ctx context.Context) error {
	history, err := c.api.History(ctx, c.id, time.Time{}, c.historyLimit)
	if err != nil {
		return fmt.Errorf("load history %s: %w", c.id, err)
	}
	changed := false
	c.mu.Lock()
	for i := range history {
		msg := history[i]
		if msg.ConversationID != c.id {
			continue
		}
		if err := msg.Validate(); err != nil {
			continue
		}
		if c.mergeLocked(msg) {
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
	return nil
}

func (c *Conversation) onMessage(p protocol.MessagePayload) {
	if p.ConversationID != c.id {
		return
	}
	c.mu.Lock()
	changed := c.mergeLocked(p.Message)
	incoming := p.SenderID != c.self.ID && c.messages[c.index[p.ID]].Status != models.MessageStatusRead
	// a message ends the sender's typing burst
	if c.peers[p.SenderID] {
		delete(c.peers, p.SenderID)
		changed = true
	}
	c.mu.Unlock()

	if changed {
		c.changed()
	}
	if incoming {
		c.scheduleRead()
	}
}

func (c *Conversation) onReceipt(p protocol.ReceiptPayload, status models.MessageStatus) {
	if p.ConversationID != "" && p.ConversationID != c.id {
		return
	}
	c.mu.Lock()
	i, ok := c.index[p.MessageID]
	if !ok {
		// Receipt ahead of the message itself; applied on arrival.
		prev := c.early[p.MessageID]
		c.early[p.MessageID], _ = prev.Advance(status)
		c.mu.Unlock()
		return
	}
	var changed bool
	c.messages[i].Status, changed = c.messages[i].Status.Advance(status)
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

func (c *Conversation) onPeerTyping(p protocol.TypingPayload, typing bool) {
	if p.ConversationID != c.id || p.UserID == c.self.ID {
		return
	}
	c.mu.Lock()
	changed := c.peers[p.UserID] != typing
	if typing {
		c.peers[p.UserID] = true
	} else {
		delete(c.peers, p.UserID)
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

// mergeLocked inserts msg keeping the list sorted by CreatedAt, or advances
// the status of the copy already held.
func (c *Conversation) mergeLocked(msg models.Message) bool {
	if i, ok := c.index[msg.ID]; ok {
		var changed bool
		c.messages[i].Status, changed = c.messages[i].Status.Advance(msg.Status)
		return changed
	}
	if st, ok := c.early[msg.ID]; ok {
		msg.Status, _ = msg.Status.Advance(st)
		delete(c.early, msg.ID)
	}

	at := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	c.messages = append(c.messages, models.Message{})
	copy(c.messages[at+1:], c.messages[at:])
	c.messages[at] = msg
	for i := at; i < len(c.messages); i++ {
		c.index[c.messages[i].ID] = i
	}
	return true
}

func (c *Conversation) scheduleRead() {
	c.mu.Lock()
	if c.reading || c.closed {
		c.mu.Unlock()
		return
	}
	c.reading = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.reading = false
			c.mu.Unlock()
		}()
		if err := c.MarkRead(c.ctx); err != nil && c.ctx.Err() == nil {
			c.m.Logger().Printf("conversation %s: mark read: %v", c.id, err)
		}
	}()
}

func (c *Conversation) stateChanged(s State) {
	switch s {
	case StateDisconnected:
		c.mu.Lock()
		changed := len(c.peers) > 0
		c.peers = make(map[string]bool)
		c.mu.Unlock()
		if changed {
			c.changed()
		}
	case StateConnected:
		// The room is rejoined by the Manager; fill the gap in history.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.wg.Done()
			if err := c.loadHistory(c.ctx); err != nil && c.ctx.Err() == nil {
				c.m.Logger().Printf("conversation %s: resync: %v", c.id, err)
			}
		}()
	}
}

func (c *Conversation) idleExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.typingGen || !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	c.idle = nil
	c.mu.Unlock()

	c.emitTyping(protocol.EventStopTyping)
	c.changed()
}

// stopTypingLocked clears the local typing flag and reports whether a
// stopTyping must be sent.
func (c *Conversation) stopTypingLocked() bool {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.typingGen++
	if !c.typing {
		return false
	}
	c.typing = false
	return true
}

func (c *Conversation) emitTyping(event protocol.Event) {
	err := c.m.Emit(event, protocol.TypingPayload{ConversationID: c.id, UserID: c.self.ID})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.m.Logger().Printf("conversation %s: %s: %v", c.id, event, err)
	}
}

func (c *Conversation) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
