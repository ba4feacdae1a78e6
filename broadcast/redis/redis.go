// Package redis carries broadcast events over Redis pub/sub so guards in
// different processes (SSR workers, CLI runs) hear about each other.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eternovinculo/visitguard/broadcast"
)

// Channel publishes JSON events on one Redis channel and runs a single receive
// loop that fans messages out to local subscribers.
type Channel struct {
	rdb     goredis.UniversalClient
	channel string

	mu     sync.RWMutex
	subs   map[uint64]func(broadcast.Event)
	nextID uint64
	closed bool

	pubsub *goredis.PubSub
	done   chan struct{}
	onErr  func(error)
}

var _ broadcast.Channel = (*Channel)(nil)

type Config struct {
	Client  goredis.UniversalClient
	Channel string      // "" => "visitguard:events"
	OnError func(error) // undecodable messages; nil ignores them
}

// New subscribes to the channel and starts the receive loop. It waits for the
// subscription to be confirmed so events published right after New returns
// are not missed.
func New(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis broadcast: nil client")
	}
	name := cfg.Channel
	if name == "" {
		name = "visitguard:events"
	}
	ps := cfg.Client.Subscribe(ctx, name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	c := &Channel{
		rdb:     cfg.Client,
		channel: name,
		subs:    make(map[uint64]func(broadcast.Event)),
		pubsub:  ps,
		done:    make(chan struct{}),
		onErr:   cfg.OnError,
	}
	go c.loop()
	return c, nil
}

func (c *Channel) loop() {
	defer close(c.done)
	for msg := range c.pubsub.Channel() {
		var e broadcast.Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			if c.onErr != nil {
				c.onErr(err)
			}
			continue
		}
		c.mu.RLock()
		fns := make([]func(broadcast.Event), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.mu.RUnlock()
		for _, fn := range fns {
			fn(e)
		}
	}
}

func (c *Channel) Publish(ctx context.Context, e broadcast.Event) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return broadcast.ErrClosed
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, payload).Err()
}

func (c *Channel) Subscribe(fn func(broadcast.Event)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broadcast.ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}, nil
}

// Close stops the receive loop. The Redis client itself is left open.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[uint64]func(broadcast.Event))
	c.mu.Unlock()

	err := c.pubsub.Close()
	<-c.done
	return err
}
