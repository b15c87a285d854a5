package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

type chatFixture struct {
	svc      *ChatService
	messages *memMessages
	convs    *memConversations
	presence *MemoryPresence
	pub      *recordingPublisher
	notes    *memNotifications
	conv     *models.Conversation
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{
		messages: newMemMessages(),
		convs:    newMemConversations(),
		presence: NewMemoryPresence(),
		pub:      &recordingPublisher{},
		notes:    &memNotifications{},
	}
	notifier := NewNotificationService(f.notes, f.pub)
	f.svc = NewChatService(f.messages, f.convs, nil, f.presence, f.pub, notifier)

	clock := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	conv, err := f.svc.StartConversation(context.Background(), worker, employer.ID)
	require.NoError(t, err)
	f.conv = conv
	return f
}

func TestStartConversationIsStable(t *testing.T) {
	f := newChatFixture(t)
	again, err := f.svc.StartConversation(context.Background(), employer, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, f.conv.ID, again.ID)

	_, err = f.svc.StartConversation(context.Background(), worker, worker.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendBroadcastsAndNotifies(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, worker, f.conv.ID, "  on my way  ")
	require.NoError(t, err)
	assert.Equal(t, "on my way", msg.Text)
	assert.Equal(t, models.MessageStatusSent, msg.Status)

	got := f.pub.events(protocol.EventReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, models.ConversationRoom(f.conv.ID), got[0].Room)
	var payload protocol.MessagePayload
	require.NoError(t, json.Unmarshal(got[0].Data, &payload))
	assert.Equal(t, msg.ID, payload.ID)

	// recipient offline: no delivery receipt
	assert.Empty(t, f.pub.events(protocol.EventMessageDelivered))

	notes := f.notes.forUser(employer.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationKindMessage, notes[0].Kind)
	assert.Equal(t, f.conv.ID, notes[0].Data["conversationId"])
	assert.Len(t, f.pub.events(protocol.EventNotificationNew), 1)

	conv, err := f.convs.Get(ctx, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, msg.ID, conv.LastMessage.ID)
}

func TestSendMarksDeliveredWhenRecipientOnline(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	_, err := f.presence.Connect(ctx, employer.ID)
	require.NoError(t, err)

	msg, err := f.svc.Send(ctx, worker, f.conv.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	assert.Equal(t, models.MessageStatusDelivered, f.messages.get(msg.ID).Status)

	receipts := f.pub.events(protocol.EventMessageDelivered)
	require.Len(t, receipts, 1)
	var r protocol.ReceiptPayload
	require.NoError(t, json.Unmarshal(receipts[0].Data, &r))
	assert.Equal(t, msg.ID, r.MessageID)
}

func TestSendRejects(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, worker, f.conv.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	outsider := models.Identity{ID: "x9", Role: models.RoleWorker}
	_, err = f.svc.Send(ctx, outsider, f.conv.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Send(ctx, worker, "missing", "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	f.messages.fail = errStoreDown
	_, err = f.svc.Send(ctx, worker, f.conv.ID, "hi")
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, f.pub.events(protocol.EventReceiveMessage))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two"} {
		_, err := f.svc.Send(ctx, worker, f.conv.ID, text)
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, employer, f.conv.ID, "reply")
	require.NoError(t, err)

	ids, err := f.svc.MarkRead(ctx, employer, f.conv.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, f.pub.events(protocol.EventMessageRead), 2)

	ids, err = f.svc.MarkRead(ctx, employer, f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, f.pub.events(protocol.EventMessageRead), 2)
}

func TestHistoryPagination(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	var sent []*models.Message
	for i := 0; i < 5; i++ {
		m, err := f.svc.Send(ctx, worker, f.conv.ID, string(rune('a'+i)))
		require.NoError(t, err)
		sent = append(sent, m)
	}

	page, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, sent[3].ID, page[0].ID)
	assert.Equal(t, sent[4].ID, page[1].ID)

	older, err := f.svc.History(ctx, employer, f.conv.ID, page[0].CreatedAt, 10)
	require.NoError(t, err)
	assert.Len(t, older, 3)

	_, err = f.svc.History(ctx, models.Identity{ID: "x9"}, f.conv.ID, time.Time{}, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHistoryCacheHoldsOnlyTheNewestWindow(t *testing.T) {
	f := newChatFixture(t)
	cache := newListCache()
	f.svc.cache = cache
	ctx := context.Background()

	var sent []*models.Message
	for i := 0; i < 10; i++ {
		m, err := f.svc.Send(ctx, worker, f.conv.ID, string(rune('a'+i)))
		require.NoError(t, err)
		sent = append(sent, m)
	}

	page, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.False(t, cache.warm(f.conv.ID), "a short page must not seed the cache")

	full, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, full, 10)
	require.True(t, cache.warm(f.conv.ID))

	again, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hitCount())
	assert.Len(t, again, 10)

	last, err := f.svc.Send(ctx, worker, f.conv.ID, "k")
	require.NoError(t, err)
	tail, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, sent[9].ID, tail[0].ID)
	assert.Equal(t, last.ID, tail[1].ID)
}

func TestHistoryCacheFullPageSeedsWindow(t *testing.T) {
	f := newChatFixture(t)
	cache := newListCache()
	f.svc.cache = cache
	ctx := context.Background()

	for i := 0; i < chatRecentMaxLen+5; i++ {
		_, err := f.svc.Send(ctx, worker, f.conv.ID, "m")
		require.NoError(t, err)
	}

	_, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, 20)
	require.NoError(t, err)
	assert.False(t, cache.warm(f.conv.ID))

	page, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, chatRecentMaxLen)
	require.NoError(t, err)
	assert.Len(t, page, chatRecentMaxLen)
	assert.True(t, cache.warm(f.conv.ID))

	cached, err := f.svc.History(ctx, employer, f.conv.ID, time.Time{}, chatRecentMaxLen)
	require.NoError(t, err)
	assert.Equal(t, page, cached)
}
