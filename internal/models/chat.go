package models

import (
	"fmt"
	"time"
)

// MessageStatus represents the delivery/read status of a message.
// Valid values: "sent", "delivered", "read".
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses so that read > delivered > sent. Unknown values rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Advance returns the status after applying next. The status never moves
// backwards; the boolean reports whether anything changed.
func (s MessageStatus) Advance(next MessageStatus) (MessageStatus, bool) {
	if !next.Valid() || next.Rank() <= s.Rank() {
		return s, false
	}
	return next, true
}

// Message is stored in MongoDB (one document per message) and pushed inline
// over the socket as the receiveMessage payload.
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	SenderID       string        `bson:"sender_id" json:"senderId"`
	Text           string        `bson:"text" json:"text"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	Status         MessageStatus `bson:"status" json:"status"`
	DeliveredAt    *time.Time    `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	ReadAt         *time.Time    `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

// Validate checks the fields every inbound message must carry.
func (m *Message) Validate() error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("message: id, conversationId and senderId are required")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("message %s: createdAt is required", m.ID)
	}
	if m.Status == "" {
		m.Status = MessageStatusSent
	}
	if !m.Status.Valid() {
		return fmt.Errorf("message %s: unknown status %q", m.ID, m.Status)
	}
	return nil
}

// MessageSummary is the denormalised lastMessage pointer kept on a conversation.
type MessageSummary struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a two-party thread. Members are weak references to identities.
type Conversation struct {
	ID          string          `json:"id"`
	Members     [2]string       `json:"members"`
	LastMessage *MessageSummary `json:"lastMessage,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// HasMember reports whether userID is one of the two members.
func (c *Conversation) HasMember(userID string) bool {
	return c.Members[0] == userID || c.Members[1] == userID
}

// Counterpart returns the other member, or "" when userID is not a member.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.Members[0]:
		return c.Members[1]
	case c.Members[1]:
		return c.Members[0]
	}
	return ""
}
