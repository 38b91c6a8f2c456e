package account

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcaster mirrors account-selection and cooldown state across gateway
// replicas. Optional: a single-replica deployment never wires one and
// Pool simply skips it.
type Broadcaster interface {
	PublishLastUsed(email, sessionID string, at time.Time)
	PublishCooldown(email, model string, until time.Time)
}

// RedisBroadcaster publishes account state transitions onto a Redis pub/sub
// channel so sibling replicas' pools converge on the same sticky-session and
// cooldown view without a shared process. It does not subscribe itself;
// wiring a subscriber that feeds PickNext's callers back is the
// deployment's choice. Each replica's local state stays authoritative for
// its own upstream calls.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster wires a Broadcaster backed by client, publishing on
// channel (e.g. "antigravity-gateway:accounts").
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel}
}

type broadcastEvent struct {
	Kind      string    `json:"kind"`
	Email     string    `json:"email"`
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	At        time.Time `json:"at"`
}

func (b *RedisBroadcaster) PublishLastUsed(email, sessionID string, at time.Time) {
	b.publish(broadcastEvent{Kind: "last_used", Email: email, SessionID: sessionID, At: at})
}

func (b *RedisBroadcaster) PublishCooldown(email, model string, until time.Time) {
	b.publish(broadcastEvent{Kind: "cooldown", Email: email, Model: model, At: until})
}

func (b *RedisBroadcaster) publish(ev broadcastEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best-effort: a dropped broadcast only delays cross-replica convergence,
	// it never affects this replica's own PickNext correctness.
	b.client.Publish(ctx, b.channel, data)
}
