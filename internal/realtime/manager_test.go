package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

func TestConnectWithoutTokenCreatesNothing(t *testing.T) {
	srv := newFakeServer()
	m := NewManager(srv, StaticToken(""), WithLogger(quietLogger()))

	err := m.Connect(context.Background(), worker)
	require.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, 0, srv.dials())
	assert.Equal(t, StateIdle, m.State())
}

func TestConnectJoinsPersonalRoom(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	frames := srv.last().frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, protocol.EventJoinUserRoom, frames[0].Event)

	var p protocol.RoomPayload
	require.NoError(t, protocol.Decode(frames[0], &p))
	assert.Equal(t, "user:w1", p.Room)
	assert.Equal(t, 0, m.Attempts())
}

func TestConnectTwiceIsNoop(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	require.NoError(t, m.Connect(context.Background(), worker))
	assert.Equal(t, 1, srv.dials())
	assert.ErrorIs(t, m.Connect(context.Background(), employer), ErrIdentityInUse)
}

func TestReconnectResubscribes(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)

	var states []State
	var mu sync.Mutex
	sub := m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer sub.Close()

	var received atomic.Int32
	msgs := m.On(protocol.EventReceiveMessage, func(protocol.Envelope) { received.Add(1) })
	defer msgs.Close()

	connect(t, m, worker)
	room := m.Join(ConversationRoom("c1"))
	defer room.Close()
	require.Equal(t, 1, srv.conn(0).count(protocol.EventJoinConversation))

	srv.conn(0).drop()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, waitFor, tick)

	second := srv.conn(1)
	assert.Equal(t, []protocol.Event{protocol.EventJoinUserRoom, protocol.EventJoinConversation}, second.events())
	assert.Equal(t, 0, m.Attempts())

	second.push(t, protocol.EventReceiveMessage, models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "e1", Text: "hi", CreatedAt: time.Now(),
	})
	require.Eventually(t, func() bool { return received.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 1, m.HandlerCount(protocol.EventReceiveMessage))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnected}, states)
}

func TestReconnectGivesUpAfterCeiling(t *testing.T) {
	srv := newFakeServer()
	srv.failAfter = 1
	m := newTestManager(t, srv)
	connect(t, m, worker)

	srv.conn(0).drop()
	require.Eventually(t, func() bool { return m.State() == StateTerminated }, waitFor, tick)
	assert.Equal(t, DefaultMaxAttempts, m.Attempts())
	assert.Equal(t, 1+DefaultMaxAttempts, srv.dials())
	assert.ErrorIs(t, m.Emit(protocol.EventTyping, protocol.TypingPayload{ConversationID: "c", UserID: "w1"}), ErrNotConnected)
}

func TestReconnectRereadsToken(t *testing.T) {
	srv := newFakeServer()
	var n atomic.Int32
	tokens := TokenFunc(func() string {
		if n.Add(1) == 1 {
			return "first"
		}
		return "refreshed"
	})
	m := NewManager(srv, tokens, WithLogger(quietLogger()), WithBackoff(time.Millisecond, time.Millisecond))
	t.Cleanup(m.Disconnect)
	connect(t, m, worker)

	srv.conn(0).drop()
	require.Eventually(t, func() bool { return srv.dials() == 2 && m.Connected() }, waitFor, tick)
	assert.Equal(t, []string{"first", "refreshed"}, srv.dialedTokens())
}

func TestDisconnectStopsRetrying(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv, WithBackoff(time.Hour, time.Hour))
	connect(t, m, worker)

	srv.conn(0).drop()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)
	m.Disconnect()
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 1, srv.dials())
}

func TestRequestCorrelatesAck(t *testing.T) {
	srv := newFakeServer()
	srv.respond(protocol.EventGetOnlineStatus, func(env protocol.Envelope) protocol.AckPayload {
		data, _ := json.Marshal(protocol.OnlineStatusResponse{Statuses: map[string]bool{"e1": true}})
		return protocol.AckPayload{Data: data}
	})
	m := newTestManager(t, srv)
	connect(t, m, worker)

	var out protocol.OnlineStatusResponse
	err := m.Request(context.Background(), protocol.EventGetOnlineStatus, protocol.OnlineStatusRequest{UserIDs: []string{"e1"}}, &out)
	require.NoError(t, err)
	assert.True(t, out.Statuses["e1"])
}

func TestRequestAckError(t *testing.T) {
	srv := newFakeServer()
	srv.respond(protocol.EventGetOnlineStatus, func(protocol.Envelope) protocol.AckPayload {
		return protocol.AckPayload{Error: "rate limited"}
	})
	m := newTestManager(t, srv)
	connect(t, m, worker)

	err := m.Request(context.Background(), protocol.EventGetOnlineStatus, protocol.OnlineStatusRequest{UserIDs: []string{"e1"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRequestFailsWhenTransportDrops(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv, WithBackoff(time.Hour, time.Hour))
	connect(t, m, worker)

	errc := make(chan error, 1)
	go func() {
		errc <- m.Request(context.Background(), protocol.EventGetOnlineStatus, protocol.OnlineStatusRequest{UserIDs: []string{"e1"}}, nil)
	}()
	require.Eventually(t, func() bool { return srv.conn(0).count(protocol.EventGetOnlineStatus) == 1 }, waitFor, tick)
	srv.conn(0).drop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(waitFor):
		t.Fatal("request did not fail after drop")
	}
}

func TestJoinIsReferenceCounted(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)
	conn := srv.last()

	a := m.Join(JobRoom("j1"))
	b := m.Join(JobRoom("j1"))
	assert.Equal(t, 1, conn.count(protocol.EventJoinJobRoom))

	a.Close()
	a.Close()
	assert.Equal(t, 0, conn.count(protocol.EventLeaveJobRoom))
	b.Close()
	assert.Equal(t, 1, conn.count(protocol.EventLeaveJobRoom))
	assert.Empty(t, m.Rooms())
}

func TestBinderReplacesHandler(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	var first, second atomic.Int32
	b := NewBinder(m)
	b.Bind(protocol.EventPresenceOnline, func(protocol.Envelope) { first.Add(1) })
	b.Bind(protocol.EventPresenceOnline, func(protocol.Envelope) { second.Add(1) })
	assert.Equal(t, 1, m.HandlerCount(protocol.EventPresenceOnline))

	srv.last().push(t, protocol.EventPresenceOnline, protocol.PresencePayload{UserID: "e1"})
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(0), first.Load())

	b.Close()
	assert.Equal(t, 0, m.HandlerCount(protocol.EventPresenceOnline))
}

func TestInboundFramesInWrongDirectionAreIgnored(t *testing.T) {
	srv := newFakeServer()
	m := newTestManager(t, srv)
	connect(t, m, worker)

	var got atomic.Int32
	sub := m.On(protocol.EventTyping, func(protocol.Envelope) { got.Add(1) })
	defer sub.Close()
	done := make(chan struct{})
	marker := m.On(protocol.EventPresenceOnline, func(protocol.Envelope) { close(done) })
	defer marker.Close()

	srv.last().push(t, protocol.EventTyping, protocol.TypingPayload{ConversationID: "c", UserID: "e1"})
	srv.last().push(t, protocol.EventPresenceOnline, protocol.PresencePayload{UserID: "e1"})
	<-done
	assert.Equal(t, int32(0), got.Load())
}

func TestBackoffIsCapped(t *testing.T) {
	m := NewManager(newFakeServer(), StaticToken("x"), WithBackoff(500*time.Millisecond, 5*time.Second))
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, m.backoff(i+1), "attempt %d", i+1)
	}
}
