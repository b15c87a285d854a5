package realtime

import (
	"sync"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// Notifications keeps the unread counter and the feed for the connected user.
// Delivery is at-least-once; the counter never goes below zero.
type Notifications struct {
	binder *Binder

	mu       sync.Mutex
	unread   int
	items    []models.Notification
	index    map[string]int
	onChange func(unread int)
}

// NewNotifications subscribes to the personal notification events on m.
// onChange, when non-nil, receives the unread count after every change.
func NewNotifications(m *Manager, onChange func(unread int)) *Notifications {
	n := &Notifications{
		binder:   NewBinder(m),
		index:    make(map[string]int),
		onChange: onChange,
	}
	logger := m.Logger()
	n.binder.Bind(protocol.EventNotificationNew, Handle(logger, func(p protocol.NotificationPayload) {
		n.add(p.Notification)
	}))
	n.binder.Bind(protocol.EventNotificationRead, Handle(logger, func(p protocol.NotificationReadPayload) {
		n.markRead(p.NotificationID)
	}))
	n.binder.Bind(protocol.EventNotificationAllRead, func(protocol.Envelope) {
		n.markAllRead()
	})
	return n
}

// Seed replaces the feed with items fetched over REST, newest first, and
// recomputes the counter from them.
func (n *Notifications) Seed(items []models.Notification) {
	n.mu.Lock()
	n.items = make([]models.Notification, 0, len(items))
	n.index = make(map[string]int, len(items))
	n.unread = 0
	for _, item := range items {
		if _, dup := n.index[item.ID]; dup {
			continue
		}
		n.index[item.ID] = len(n.items)
		n.items = append(n.items, item)
		if !item.Read {
			n.unread++
		}
	}
	unread := n.unread
	n.mu.Unlock()
	n.changed(unread)
}

// Unread returns the unread counter.
func (n *Notifications) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

// Items returns a copy of the feed in arrival order.
func (n *Notifications) Items() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Notification, len(n.items))
	copy(out, n.items)
	return out
}

// Close unsubscribes. A remounted surface must create a new Notifications.
func (n *Notifications) Close() {
	n.binder.Close()
}

func (n *Notifications) add(item models.Notification) {
	n.mu.Lock()
	n.index[item.ID] = len(n.items)
	n.items = append(n.items, item)
	if !item.Read {
		n.unread++
	}
	unread := n.unread
	n.mu.Unlock()
	n.changed(unread)
}

func (n *Notifications) markRead(id string) {
	n.mu.Lock()
	if i, ok := n.index[id]; ok {
		if n.items[i].Read {
			n.mu.Unlock()
			return
		}
		n.items[i].Read = true
	}
	if n.unread > 0 {
		n.unread--
	}
	unread := n.unread
	n.mu.Unlock()
	n.changed(unread)
}

func (n *Notifications) markAllRead() {
	n.mu.Lock()
	for i := range n.items {
		n.items[i].Read = true
	}
	n.unread = 0
	n.mu.Unlock()
	n.changed(0)
}

func (n *Notifications) changed(unread int) {
	if n.onChange != nil {
		n.onChange(unread)
	}
}
