// Package redispublisher mirrors decoded Propar broadcast parameter
// lists onto a Redis pub/sub channel. It is additive to the in-process
// broadcast callback, never a replacement for it.
package redispublisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	propar "github.com/bronkhorst-developer/bronkhorst-propar"
)

// Publisher republishes broadcast parameter lists to a Redis channel.
type Publisher struct {
	client  *redis.Client
	ctx     context.Context
	channel string
}

// New connects to addr and verifies reachability before returning, so
// that a bad Redis address fails at startup rather than on the first
// broadcast.
func New(addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redispublisher: connect to %s: %w", addr, err)
	}
	return &Publisher{client: client, ctx: ctx, channel: channel}, nil
}

// Sink has the signature Master.SetBroadcastCallback expects and
// publishes each decoded parameter list to Redis. Master holds a single
// broadcast callback, so registering Sink directly replaces any other
// callback; publishing alongside in-process handling means calling Sink
// from that callback.
func (p *Publisher) Sink(params []propar.Descriptor) {
	payload, err := json.Marshal(params)
	if err != nil {
		return
	}
	p.client.Publish(p.ctx, p.channel, payload)
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
