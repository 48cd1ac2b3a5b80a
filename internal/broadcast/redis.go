package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leavetrack/internal/metrics"
)

const channelPrefix = "leavetrack:school:"

// relayBuffer bounds the outbound forwarding queue. When Redis cannot keep
// up, cross-instance copies are dropped rather than stalling ingestion.
const relayBuffer = 256

// relayEnvelope wraps an event with the publishing instance id so a relay can
// skip messages it published itself.
type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

type outbound struct {
	channel string
	payload []byte
}

// Relay mirrors hub traffic through Redis Pub/Sub so supervisors connected to
// any API instance see events ingested on every instance. With a single
// instance it degrades to a plain hub plus one redundant publish.
type Relay struct {
	hub      *Hub
	client   *redis.Client
	instance string
	out      chan outbound
}

// NewRelay wraps hub with a Redis bridge. Run must be started for events to
// actually cross instances.
func NewRelay(hub *Hub, client *redis.Client) *Relay {
	return &Relay{
		hub:      hub,
		client:   client,
		instance: uuid.NewString(),
		out:      make(chan outbound, relayBuffer),
	}
}

// Publish delivers locally and queues the event for the other instances. It
// never blocks on Redis: the forwarding goroutine does the network write, and
// a full queue costs the cross-instance copy only. Local subscribers always
// get the event. Per-school FIFO holds because a single goroutine drains the
// queue in publish order.
func (r *Relay) Publish(schoolID string, ev Event) {
	r.hub.Publish(schoolID, ev)

	payload, err := json.Marshal(relayEnvelope{Origin: r.instance, Event: ev})
	if err != nil {
		return
	}
	select {
	case r.out <- outbound{channel: channelPrefix + schoolID, payload: payload}:
	default:
		metrics.RelayDropped.Inc()
	}
}

// Run forwards queued events to Redis and consumes remote ones until ctx is
// cancelled. Blocks; run in its own goroutine.
func (r *Relay) Run(ctx context.Context) {
	go r.forward(ctx)

	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("broadcast relay: bad payload on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == r.instance {
				continue
			}
			schoolID := strings.TrimPrefix(msg.Channel, channelPrefix)
			r.hub.Publish(schoolID, env.Event)
		}
	}
}

func (r *Relay) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.out:
			if err := r.client.Publish(ctx, msg.channel, msg.payload).Err(); err != nil {
				log.Printf("broadcast relay publish failed: %v", err)
			}
		}
	}
}
