package bus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/printqd/printqd/internal/logger"
)

const backplaneChannel = "printqd.events.clients"

// Envelope is the cross-process form of a client broadcast.
type Envelope struct {
	Origin string      `json:"origin"`
	Event  string      `json:"event"`
	Data   interface{} `json:"data,omitempty"`
}

// Backplane mirrors client broadcasts across processes through redis
// pub/sub.
type Backplane struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewBackplane(ctx context.Context, uri string, log *logger.Logger) (*Backplane, error) {
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid event bus queue uri: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("event bus queue ping: %w", err)
	}
	return &Backplane{log: log.With("component", "backplane"), rdb: rdb}, nil
}

func (b *Backplane) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, backplaneChannel, raw).Err()
}

// StartForwarder subscribes to the back-plane channel and hands every
// remote envelope to onMsg until ctx is cancelled.
func (b *Backplane) StartForwarder(ctx context.Context, onMsg func(env Envelope)) error {
	sub := b.rdb.Subscribe(ctx, backplaneChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("event bus subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					sub.Close()
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.log.Warn("bad backplane payload", "error", err)
					continue
				}
				onMsg(env)
			}
		}
	}()
	return nil
}

func (b *Backplane) Close() error {
	return b.rdb.Close()
}
