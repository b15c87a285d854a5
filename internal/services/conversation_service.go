package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/workbridge/internal/models"
)

// ConversationService stores two-party conversations in PostgreSQL. Members
// are kept sorted so a pair always maps to the same row.
type ConversationService struct {
	db *sql.DB
}

func NewConversationService(db *sql.DB) *ConversationService {
	return &ConversationService{db: db}
}

const conversationColumns = `id, member_a, member_b, last_message_id, last_message_sender,
	last_message_text, last_message_at, created_at`

// GetOrCreate returns the conversation between a and b, creating it once.
func (s *ConversationService) GetOrCreate(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: a conversation needs two distinct members", ErrInvalidInput)
	}
	if b < a {
		a, b = b, a
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, member_a, member_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_a, member_b) DO NOTHING
	`, uuid.New(), a, b)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations WHERE member_a = $1 AND member_b = $2`, a, b)
	return scanConversation(row)
}

// Get returns ErrNotFound for unknown or malformed ids.
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE member_a = $1 OR member_b = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateLastMessage moves the lastMessage pointer forward; an older message
// never replaces a newer one.
func (s *ConversationService) UpdateLastMessage(ctx context.Context, conversationID string, msg models.MessageSummary) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_sender = $3, last_message_text = $4, last_message_at = $5
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $5)
	`, conversationID, msg.ID, msg.SenderID, msg.Text, msg.CreatedAt)
	return err
}

// IsMember implements MembershipChecker.
func (s *ConversationService) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND (member_a = $2 OR member_b = $2))
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// Counterparts returns everyone userID shares a conversation with.
func (s *ConversationService) Counterparts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN member_a = $1 THEN member_b ELSE member_a END
		FROM conversations
		WHERE member_a = $1 OR member_b = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                    models.Conversation
		lastID, sender, text sql.NullString
		lastAt               sql.NullTime
		createdAt            time.Time
	)
	err := row.Scan(&c.ID, &c.Members[0], &c.Members[1], &lastID, &sender, &text, &lastAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt
	if lastID.Valid {
		c.LastMessage = &models.MessageSummary{
			ID:        lastID.String,
			SenderID:  sender.String,
			Text:      text.String,
			CreatedAt: lastAt.Time,
		}
	}
	return &c, nil
}
