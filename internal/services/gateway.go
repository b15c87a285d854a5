package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// SocketConn is the minimal interface our WebSocket implementation must satisfy.
type SocketConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(dest interface{}) error
	Close() error
}

// Publisher broadcasts an event to every connection in a room, on every
// server instance.
type Publisher interface {
	Publish(ctx context.Context, room string, event protocol.Event, payload any) error
}

// MembershipChecker answers conversation membership questions for the gateway.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	Counterparts(ctx context.Context, userID string) ([]string, error)
}

// JobAccess decides who may watch a job room.
type JobAccess interface {
	CanWatchJob(ctx context.Context, jobID, userID string) (bool, error)
}

const sendBuffer = 64

// Gateway is the socket hub: it owns local connections and their rooms and
// relays room broadcasts through the Broker so every instance sees them.
type Gateway struct {
	broker    Broker
	presence  PresenceStore
	members   MembershipChecker
	jobs      JobAccess
	limit     rate.Limit
	burst     int
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]*socketClient
	rooms   map[string]map[*socketClient]struct{}
}

// NewGateway wires the hub. eventsPerSec and burst bound inbound frames per
// connection.
func NewGateway(broker Broker, presence PresenceStore, members MembershipChecker, jobs JobAccess, eventsPerSec float64, burst int) *Gateway {
	return &Gateway{
		broker:    broker,
		presence:  presence,
		members:   members,
		jobs:      jobs,
		limit:     rate.Limit(eventsPerSec),
		burst:     burst,
		heartbeat: presenceHeartbeat,
		clients:   make(map[string]*socketClient),
		rooms:     make(map[string]map[*socketClient]struct{}),
	}
}

type socketClient struct {
	id       string
	identity models.Identity
	conn     SocketConn
	send     chan protocol.Envelope
	limiter  *rate.Limiter
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *socketClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue never blocks: a client that cannot keep up is disconnected.
func (c *socketClient) enqueue(env protocol.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		log.Printf("[gateway] dropping slow connection %s (%s)", c.id, c.identity.ID)
		c.close()
		return false
	}
}

func (c *socketClient) inRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Run relays broker traffic to local connections until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	g.broker.Run(ctx, g.deliver)
}

// Publish implements Publisher.
func (g *Gateway) Publish(ctx context.Context, room string, event protocol.Event, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := g.broker.Publish(ctx, room, data); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, room, err)
	}
	return nil
}

// Serve runs one authenticated connection until it closes or ctx ends.
func (g *Gateway) Serve(ctx context.Context, identity models.Identity, conn SocketConn) {
	c := &socketClient{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan protocol.Envelope, sendBuffer),
		limiter:  rate.NewLimiter(g.limit, g.burst),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.writePump(c)
	}()
	go func() {
		defer wg.Done()
		g.keepAlive(ctx, c)
	}()

	g.setOnline(ctx, identity, true)
	log.Printf("[gateway] %s connected as %s (%s)", c.id, identity.ID, identity.Role)

	stop := context.AfterFunc(ctx, c.close)
	g.readLoop(ctx, c)
	stop()

	c.close()
	wg.Wait()
	g.unregister(c)
	g.setOnline(context.WithoutCancel(ctx), identity, false)
	log.Printf("[gateway] %s disconnected (%s)", c.id, identity.ID)
}

// Close disconnects every local client.
func (g *Gateway) Close() {
	g.mu.RLock()
	clients := make([]*socketClient, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// Connections returns the number of live local connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) writePump(c *socketClient) {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("[gateway] write to %s failed: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

// keepAlive refreshes the presence entry until the connection closes.
func (g *Gateway) keepAlive(ctx context.Context, c *socketClient) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := g.presence.Touch(tctx, c.identity.ID); err != nil {
				log.Printf("[gateway] presence heartbeat for %s: %v", c.identity.ID, err)
			}
			cancel()
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *socketClient) {
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.enqueue(errorEnvelope("malformed frame"))
				continue
			}
			return
		}
		g.handle(ctx, c, env)
	}
}

func (g *Gateway) handle(ctx context.Context, c *socketClient, env protocol.Envelope) {
	if err := env.Check(protocol.ClientToServer); err != nil {
		g.fail(c, env, err.Error())
		return
	}
	if !c.limiter.Allow() {
		g.fail(c, env, "rate limit exceeded")
		return
	}

	switch env.Event {
	case protocol.EventJoinUserRoom:
		var p protocol.RoomPayload
		if err := protocol.Decode(env, &p); err != nil {
			g.fail(c, env, err.Error())
			return
		}
		if p.Room != c.identity.UserRoom() {
			g.fail(c, env, "cannot join another user's room")
			return
		}
		g.join(c, p.Room)

	case protocol.EventJoinConversation, protocol.EventLeaveConversation:
		var p protocol.ConversationPayload
		if err := protocol.Decode(env, &p); err != nil {
			g.fail(c, env, err.Error())
			return
		}
		room := models.ConversationRoom(p.ConversationID)
		if env.Event == protocol.EventLeaveConversation {
			g.leave(c, room)
			return
		}
		ok, err := g.members.IsMember(ctx, p.ConversationID, c.identity.ID)
		if err != nil {
			log.Printf("[gateway] membership check %s: %v", p.ConversationID, err)
			g.fail(c, env, "membership check failed")
			return
		}
		if !ok {
			g.fail(c, env, "not a member of this conversation")
			return
		}
		g.join(c, room)

	case protocol.EventJoinJobRoom, protocol.EventLeaveJobRoom:
		var p protocol.JobPayload
		if err := protocol.Decode(env, &p); err != nil {
			g.fail(c, env, err.Error())
			return
		}
		room := models.JobRoom(p.JobID)
		if env.Event == protocol.EventLeaveJobRoom {
			g.leave(c, room)
			break
		}
		ok, err := g.jobs.CanWatchJob(ctx, p.JobID, c.identity.ID)
		if err != nil {
			log.Printf("[gateway] job access check %s: %v", p.JobID, err)
			g.fail(c, env, "job access check failed")
			return
		}
		if !ok {
			g.fail(c, env, "not a party to this job")
			return
		}
		g.join(c, room)

	case protocol.EventTyping, protocol.EventStopTyping:
		var p protocol.TypingPayload
		if err := protocol.Decode(env, &p); err != nil {
			g.fail(c, env, err.Error())
			return
		}
		room := models.ConversationRoom(p.ConversationID)
		if !c.inRoom(room) {
			g.fail(c, env, "join the conversation first")
			return
		}
		out := protocol.EventUserTyping
		if env.Event == protocol.EventStopTyping {
			out = protocol.EventUserStoppedTyping
		}
		p.UserID = c.identity.ID
		if err := g.Publish(ctx, room, out, p); err != nil {
			log.Printf("[gateway] %v", err)
		}

	case protocol.EventGetOnlineStatus:
		var p protocol.OnlineStatusRequest
		if err := protocol.Decode(env, &p); err != nil {
			g.fail(c, env, err.Error())
			return
		}
		statuses, err := g.presence.Online(ctx, p.UserIDs)
		if err != nil {
			log.Printf("[gateway] presence lookup: %v", err)
			g.fail(c, env, "presence unavailable")
			return
		}
		g.reply(c, env, protocol.OnlineStatusResponse{Statuses: statuses})
		return
	}

	g.reply(c, env, nil)
}

// reply acks env when the client asked for one.
func (g *Gateway) reply(c *socketClient, env protocol.Envelope, data any) {
	if env.Ack == 0 {
		return
	}
	var ack protocol.AckPayload
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			ack.Error = "encode response"
		} else {
			ack.Data = raw
		}
	}
	g.sendAck(c, env.Ack, ack)
}

// fail reports a rejected frame as an ack error when the client waits for
// one, and as an error event otherwise.
func (g *Gateway) fail(c *socketClient, env protocol.Envelope, msg string) {
	if env.Ack != 0 {
		g.sendAck(c, env.Ack, protocol.AckPayload{Error: msg})
		return
	}
	c.enqueue(errorEnvelope(msg))
}

func (g *Gateway) sendAck(c *socketClient, id uint64, ack protocol.AckPayload) {
	out, err := protocol.NewEnvelope(protocol.EventAck, ack)
	if err != nil {
		return
	}
	out.Ack = id
	c.enqueue(out)
}

func errorEnvelope(msg string) protocol.Envelope {
	env, _ := protocol.NewEnvelope(protocol.EventError, protocol.ErrorPayload{Message: msg})
	return env
}

func (g *Gateway) join(c *socketClient, room string) {
	g.mu.Lock()
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[*socketClient]struct{})
	}
	g.rooms[room][c] = struct{}{}
	g.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (g *Gateway) leave(c *socketClient, room string) {
	g.mu.Lock()
	if set := g.rooms[room]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(g.rooms, room)
		}
	}
	g.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (g *Gateway) unregister(c *socketClient) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()
	for _, r := range rooms {
		g.leave(c, r)
	}

	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
}

// RoomMembers returns the user ids with a local connection in room.
func (g *Gateway) RoomMembers(room string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]struct{})
	for c := range g.rooms[room] {
		seen[c.identity.ID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// deliver fans a broker message out to local connections in room.
func (g *Gateway) deliver(room string, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[gateway] bad broadcast on %s: %v", room, err)
		return
	}

	g.mu.RLock()
	targets := make([]*socketClient, 0, len(g.rooms[room]))
	for c := range g.rooms[room] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(env)
	}
}

// setOnline records the connection in the presence store and tells
// counterparts when the user's first connection opens or last one closes.
func (g *Gateway) setOnline(ctx context.Context, identity models.Identity, online bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var changed bool
	var err error
	if online {
		changed, err = g.presence.Connect(ctx, identity.ID)
	} else {
		changed, err = g.presence.Disconnect(ctx, identity.ID)
	}
	if err != nil {
		log.Printf("[gateway] presence update for %s: %v", identity.ID, err)
		return
	}
	if !changed {
		return
	}

	peers, err := g.members.Counterparts(ctx, identity.ID)
	if err != nil {
		log.Printf("[gateway] counterparts of %s: %v", identity.ID, err)
		return
	}
	event := protocol.EventPresenceOffline
	if online {
		event = protocol.EventPresenceOnline
	}
	for _, peer := range peers {
		if err := g.Publish(ctx, models.UserRoom(peer), event, protocol.PresencePayload{UserID: identity.ID}); err != nil {
			log.Printf("[gateway] %v", err)
		}
	}
}
