package realtime

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// flush pushes a marker event and waits for it, so every frame pushed
// before it has been dispatched.
func flush(t *testing.T, m *Manager, conn *fakeConn) {
	t.Helper()
	done := make(chan struct{})
	sub := m.On(protocol.EventError, func(protocol.Envelope) { close(done) })
	defer sub.Close()
	conn.push(t, protocol.EventError, protocol.ErrorPayload{Message: "flush"})
	<-done
}

func note(id string) models.Notification {
	return models.Notification{ID: id, UserID: "w1", Kind: models.NotificationKindMessage, Title: id}
}

func TestNotificationCounter(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)
	conn := srv.last()

	var last atomic.Int32
	n := NewNotifications(m, func(unread int) { last.Store(int32(unread)) })
	defer n.Close()

	for _, id := range []string{"n1", "n2", "n3"} {
		conn.push(t, protocol.EventNotificationNew, note(id))
	}
	flush(t, m, conn)
	assert.Equal(t, 3, n.Unread())
	assert.Equal(t, int32(3), last.Load())

	conn.push(t, protocol.EventNotificationRead, protocol.NotificationReadPayload{NotificationID: "n1"})
	conn.push(t, protocol.EventNotificationRead, protocol.NotificationReadPayload{NotificationID: "n1"})
	flush(t, m, conn)
	assert.Equal(t, 2, n.Unread())
	assert.True(t, n.Items()[0].Read)

	conn.push(t, protocol.EventNotificationAllRead, nil)
	flush(t, m, conn)
	assert.Equal(t, 0, n.Unread())

	// reads for items this surface never saw still clamp at zero
	conn.push(t, protocol.EventNotificationRead, protocol.NotificationReadPayload{NotificationID: "n-unknown"})
	flush(t, m, conn)
	assert.Equal(t, 0, n.Unread())
	assert.Equal(t, int32(0), last.Load())
}

func TestNotificationsSeed(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	n := NewNotifications(m, nil)
	defer n.Close()

	read := note("old")
	read.Read = true
	n.Seed([]models.Notification{note("a"), read, note("a")})
	assert.Equal(t, 1, n.Unread())
	assert.Len(t, n.Items(), 2)
}

func TestNotificationsCloseStopsCounting(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)
	conn := srv.last()

	first := NewNotifications(m, nil)
	first.Close()
	second := NewNotifications(m, nil)
	defer second.Close()
	require.Equal(t, 1, m.HandlerCount(protocol.EventNotificationNew))

	conn.push(t, protocol.EventNotificationNew, note("n1"))
	flush(t, m, conn)
	assert.Equal(t, 0, first.Unread())
	assert.Equal(t, 1, second.Unread())
}
