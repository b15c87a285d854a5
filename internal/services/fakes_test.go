package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	worker   = models.Identity{ID: "w1", Role: models.RoleWorker}
	employer = models.Identity{ID: "e1", Role: models.RoleEmployer}
)

type published struct {
	Room  string
	Event protocol.Event
	Data  json.RawMessage
}

// recordingPublisher captures broadcasts instead of sending them.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) Publish(_ context.Context, room string, event protocol.Event, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{Room: room, Event: event, Data: data})
	return nil
}

func (p *recordingPublisher) events(event protocol.Event) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type memMessages struct {
	mu   sync.Mutex
	msgs map[string]models.Message
	fail error
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[string]models.Message)}
}

func (s *memMessages) Insert(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs[msg.ID] = msg
	return nil
}

func (s *memMessages) List(_ context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && (before.IsZero() || m.CreatedAt.Before(before)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memMessages) MarkDelivered(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m := s.msgs[id]
		if m.Status == models.MessageStatusSent {
			m.Status = models.MessageStatusDelivered
			m.DeliveredAt = &at
			s.msgs[id] = m
		}
	}
	return nil
}

func (s *memMessages) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.msgs {
		if m.ConversationID == conversationID && m.SenderID != readerID && m.Status != models.MessageStatusRead {
			m.Status = models.MessageStatusRead
			m.ReadAt = &at
			s.msgs[id] = m
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memMessages) get(id string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[id]
}

type memConversations struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
	next  int
}

func newMemConversations() *memConversations {
	return &memConversations{convs: make(map[string]*models.Conversation)}
}

func (s *memConversations) GetOrCreate(_ context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, ErrInvalidInput
	}
	if b < a {
		a, b = b, a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.Members == [2]string{a, b} {
			cp := *c
			return &cp, nil
		}
	}
	s.next++
	c := &models.Conversation{ID: "c" + string(rune('0'+s.next)), Members: [2]string{a, b}}
	s.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memConversations) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memConversations) ListForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.convs {
		if c.HasMember(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memConversations) UpdateLastMessage(_ context.Context, id string, msg models.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.LastMessage = &msg
	}
	return nil
}

func (s *memConversations) IsMember(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	return ok && c.HasMember(userID), nil
}

func (s *memConversations) Counterparts(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.convs {
		if other := c.Counterpart(userID); other != "" {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out, nil
}

type memNotifications struct {
	mu    sync.Mutex
	items []models.Notification
}

func (s *memNotifications) Insert(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

func (s *memNotifications) List(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		if s.items[i].UserID == userID {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

func (s *memNotifications) MarkRead(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].UserID == userID {
			if s.items[i].Read {
				return false, nil
			}
			s.items[i].Read = true
			return true, nil
		}
	}
	return false, ErrNotFound
}

func (s *memNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.items {
		if s.items[i].UserID == userID && !s.items[i].Read {
			s.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (s *memNotifications) forUser(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// memWorkLogs mimics the row lock with a mutex held across fn.
type memWorkLogs struct {
	mu   sync.Mutex
	logs map[models.WorkLogKey]models.WorkLog
	now  func() time.Time
}

func newMemWorkLogs(now func() time.Time) *memWorkLogs {
	return &memWorkLogs{logs: make(map[models.WorkLogKey]models.WorkLog), now: now}
}

func (r *memWorkLogs) Get(_ context.Context, key models.WorkLogKey) (*models.WorkLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wl, ok := r.logs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &wl, nil
}

func (r *memWorkLogs) Update(_ context.Context, key models.WorkLogKey, fn func(*models.WorkLog) error) (*models.WorkLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wl, ok := r.logs[key]
	if !ok {
		wl = *models.NewWorkLog(key, r.now())
	}
	if err := fn(&wl); err != nil {
		return nil, err
	}
	r.logs[key] = wl
	out := wl
	return &out, nil
}

func (r *memWorkLogs) FindOpen(_ context.Context, jobID, workerID string) (*models.WorkLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.WorkLog
	for key, wl := range r.logs {
		if key.JobID != jobID || key.WorkerID != workerID || !wl.Status.ShiftOpen() {
			continue
		}
		if found == nil || key.WorkDate > found.WorkDate {
			cp := wl
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memWorkLogs) CanWatchJob(_ context.Context, jobID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := false
	for key, wl := range r.logs {
		if key.JobID != jobID {
			continue
		}
		seen = true
		if key.WorkerID == userID || wl.EmployerID == userID {
			return true, nil
		}
	}
	return !seen, nil
}

type fakePhotos struct {
	mu      sync.Mutex
	uploads []string
	fail    error
}

func (p *fakePhotos) UploadPhoto(_ context.Context, content io.Reader, folder, publicID string) (string, error) {
	if _, err := io.ReadAll(content); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.uploads = append(p.uploads, publicID)
	return "https://img.example/" + folder + "/" + publicID + ".jpg", nil
}

func (p *fakePhotos) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uploads)
}

var errStoreDown = errors.New("store down")

// listCache mirrors RecentCache: a newest-last window that Push only extends
// once warm.
type listCache struct {
	mu    sync.Mutex
	lists map[string][]models.Message
	hits  int
}

func newListCache() *listCache {
	return &listCache{lists: make(map[string][]models.Message)}
}

func (c *listCache) Push(_ context.Context, msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.lists[msg.ConversationID]
	if !ok {
		return
	}
	list = append(list, msg)
	if len(list) > chatRecentMaxLen {
		list = list[len(list)-chatRecentMaxLen:]
	}
	c.lists[msg.ConversationID] = list
}

func (c *listCache) Recent(_ context.Context, conversationID string) ([]models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.lists[conversationID]
	if !ok {
		return nil, false
	}
	c.hits++
	return append([]models.Message(nil), list...), true
}

func (c *listCache) Warm(_ context.Context, conversationID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(msgs) > chatRecentMaxLen {
		msgs = msgs[len(msgs)-chatRecentMaxLen:]
	}
	c.lists[conversationID] = append([]models.Message(nil), msgs...)
}

func (c *listCache) Invalidate(_ context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, conversationID)
}

func (c *listCache) warm(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lists[conversationID]
	return ok
}

func (c *listCache) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
