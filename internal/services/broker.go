package services

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// roomChannelPrefix namespaces room broadcasts on the Redis bus.
const roomChannelPrefix = "rt:room:"

// Broker carries room broadcasts between server instances.
type Broker interface {
	Publish(ctx context.Context, room string, data []byte) error
	// Run blocks, handing every broadcast to deliver, until ctx is done.
	Run(ctx context.Context, deliver func(room string, data []byte))
}

// RedisBroker fans room traffic out through Redis pub/sub so that every
// instance behind the load balancer sees every broadcast.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, room string, data []byte) error {
	return b.client.Publish(ctx, roomChannelPrefix+room, data).Err()
}

func (b *RedisBroker) Run(ctx context.Context, deliver func(room string, data []byte)) {
	backoff := time.Second

	for ctx.Err() == nil {
		func() {
			pubsub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
			defer pubsub.Close()

			log.Printf("✅ Realtime Redis subscriber started (pattern: %s*)", roomChannelPrefix)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Redis subscriber error: %v", err)
					select {
					case <-ctx.Done():
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second
				deliver(strings.TrimPrefix(msg.Channel, roomChannelPrefix), []byte(msg.Payload))
			}
		}()
	}
}

// LocalBroker delivers in-process. It serves single-instance development
// and tests.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver func(room string, data []byte)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, room string, data []byte) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(room, data)
	}
	return nil
}

func (b *LocalBroker) Run(ctx context.Context, deliver func(room string, data []byte)) {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
}
