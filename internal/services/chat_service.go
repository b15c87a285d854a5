package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// MaxMessageLength caps a message body in runes.
const MaxMessageLength = 4000

// MessageStore persists chat messages.
type MessageStore interface {
	Insert(ctx context.Context, msg models.Message) error
	List(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
}

// ConversationStore persists conversations and their lastMessage pointer.
type ConversationStore interface {
	MembershipChecker
	GetOrCreate(ctx context.Context, a, b string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID string, msg models.MessageSummary) error
}

// MessageCache holds the newest page of each conversation.
type MessageCache interface {
	Push(ctx context.Context, msg models.Message)
	Recent(ctx context.Context, conversationID string) ([]models.Message, bool)
	Warm(ctx context.Context, conversationID string, msgs []models.Message)
	Invalidate(ctx context.Context, conversationID string)
}

// Notifier delivers a notification to a user's feed.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) (*models.Notification, error)
}

// ChatService is the message backend: membership checks, persistence,
// receipts and socket fan-out.
type ChatService struct {
	messages      MessageStore
	conversations ConversationStore
	cache         MessageCache
	presence      PresenceStore
	publisher     Publisher
	notifier      Notifier
	now           func() time.Time
}

// NewChatService wires the chat backend. cache may be nil.
func NewChatService(messages MessageStore, conversations ConversationStore, cache MessageCache, presence PresenceStore, publisher Publisher, notifier Notifier) *ChatService {
	return &ChatService{
		messages:      messages,
		conversations: conversations,
		cache:         cache,
		presence:      presence,
		publisher:     publisher,
		notifier:      notifier,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// StartConversation returns the caller's conversation with counterpartID.
func (s *ChatService) StartConversation(ctx context.Context, caller models.Identity, counterpartID string) (*models.Conversation, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" || counterpartID == caller.ID {
		return nil, fmt.Errorf("%w: counterpart must be another user", ErrInvalidInput)
	}
	return s.conversations.GetOrCreate(ctx, caller.ID, counterpartID)
}

// Conversations lists the caller's conversations.
func (s *ChatService) Conversations(ctx context.Context, caller models.Identity) ([]models.Conversation, error) {
	return s.conversations.ListForUser(ctx, caller.ID)
}

func (s *ChatService) membership(ctx context.Context, caller models.Identity, conversationID string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(caller.ID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// History returns up to limit messages before the cursor, oldest first. The
// first page is served from the recent cache when it is warm.
func (s *ChatService) History(ctx context.Context, caller models.Identity, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	if _, err := s.membership(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxHistoryPage {
		limit = 50
	}

	if before.IsZero() && s.cache != nil && limit <= chatRecentMaxLen {
		if cached, ok := s.cache.Recent(ctx, conversationID); ok {
			if len(cached) > limit {
				cached = cached[len(cached)-limit:]
			}
			return cached, nil
		}
	}

	msgs, err := s.messages.List(ctx, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// Only a page that is the true newest window may seed the cache: either a
	// full cache-sized page or the whole conversation.
	if before.IsZero() && s.cache != nil && len(msgs) > 0 && (limit >= chatRecentMaxLen || len(msgs) < limit) {
		s.cache.Warm(ctx, conversationID, msgs)
	}
	return msgs, nil
}

// Send stores a message, broadcasts it to the conversation room and tells the
// recipient. The message is marked delivered straight away when the
// recipient has a live connection.
func (s *ChatService) Send(ctx context.Context, caller models.Identity, conversationID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, MaxMessageLength)
	}
	conv, err := s.membership(ctx, caller, conversationID)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       caller.ID,
		Text:           text,
		CreatedAt:      s.now(),
		Status:         models.MessageStatusSent,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	summary := models.MessageSummary{ID: msg.ID, SenderID: msg.SenderID, Text: msg.Text, CreatedAt: msg.CreatedAt}
	if err := s.conversations.UpdateLastMessage(ctx, conv.ID, summary); err != nil {
		log.Printf("[chat] lastMessage update for %s: %v", conv.ID, err)
	}
	if s.cache != nil {
		s.cache.Push(ctx, msg)
	}

	room := models.ConversationRoom(conv.ID)
	if err := s.publisher.Publish(ctx, room, protocol.EventReceiveMessage, protocol.MessagePayload{Message: msg}); err != nil {
		log.Printf("[chat] %v", err)
	}

	recipient := conv.Counterpart(caller.ID)
	if s.recipientOnline(ctx, recipient) {
		at := s.now()
		if err := s.messages.MarkDelivered(ctx, []string{msg.ID}, at); err != nil {
			log.Printf("[chat] mark delivered %s: %v", msg.ID, err)
		} else {
			msg.Status = models.MessageStatusDelivered
			msg.DeliveredAt = &at
			if s.cache != nil {
				s.cache.Invalidate(ctx, conv.ID)
			}
			receipt := protocol.ReceiptPayload{ConversationID: conv.ID, MessageID: msg.ID}
			if err := s.publisher.Publish(ctx, room, protocol.EventMessageDelivered, receipt); err != nil {
				log.Printf("[chat] %v", err)
			}
		}
	}

	if s.notifier != nil {
		_, err := s.notifier.Notify(ctx, models.Notification{
			UserID: recipient,
			Kind:   models.NotificationKindMessage,
			Title:  "New message",
			Body:   preview(text),
			Data:   map[string]string{"conversationId": conv.ID, "messageId": msg.ID, "senderId": caller.ID},
		})
		if err != nil {
			log.Printf("[chat] notify %s: %v", recipient, err)
		}
	}

	return &msg, nil
}

// MarkRead marks every message the caller received in the conversation as
// read. Repeating it is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, caller models.Identity, conversationID string) ([]string, error) {
	conv, err := s.membership(ctx, caller, conversationID)
	if err != nil {
		return nil, err
	}
	ids, err := s.messages.MarkRead(ctx, conv.ID, caller.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, conv.ID)
	}

	room := models.ConversationRoom(conv.ID)
	for _, id := range ids {
		receipt := protocol.ReceiptPayload{ConversationID: conv.ID, MessageID: id}
		if err := s.publisher.Publish(ctx, room, protocol.EventMessageRead, receipt); err != nil {
			log.Printf("[chat] %v", err)
		}
	}
	return ids, nil
}

func (s *ChatService) recipientOnline(ctx context.Context, userID string) bool {
	if s.presence == nil || userID == "" {
		return false
	}
	statuses, err := s.presence.Online(ctx, []string{userID})
	if err != nil {
		log.Printf("[chat] presence lookup for %s: %v", userID, err)
		return false
	}
	return statuses[userID]
}

func preview(text string) string {
	const previewLen = 80
	if utf8.RuneCountInString(text) <= previewLen {
		return text
	}
	r := []rune(text)
	return string(r[:previewLen]) + "…"
}
