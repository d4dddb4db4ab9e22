// Package bus is the dispatch event channel: Redis pub/sub on a single
// topic. The dispatcher publishes; each gateway process subscribes and
// forwards events to its own connection registry. Delivery is
// best-effort fan-out with no persistence; a gateway that is down when
// an event is published never sees it.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

// Publisher emits dispatch events on the shared channel.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// PublishJobStart publishes the START_JOB event for a successful claim.
// The payload travels inside the message body; this is the only copy
// the machine will ever receive.
func (p *Publisher) PublishJobStart(ctx context.Context, machineID, jobID string, payload []byte) error {
	body, err := json.Marshal(models.DispatchEvent{
		Event:     models.EventStartJob,
		MachineID: machineID,
		JobID:     jobID,
		Payload:   string(payload),
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish dispatch event for job %s: %w", jobID, err)
	}
	return nil
}

// Subscriber consumes dispatch events from the shared channel.
type Subscriber struct {
	client  *redis.Client
	channel string
}

func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	return &Subscriber{client: client, channel: channel}
}

// Run subscribes and hands every decoded event to fn, one at a time and
// in arrival order, until ctx is cancelled. Messages that fail to
// decode are logged and skipped. Returns once the subscription is torn
// down.
func (s *Subscriber) Run(ctx context.Context, fn func(ev models.DispatchEvent, raw []byte)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.DispatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("bus: dropping undecodable message on %s: %v", s.channel, err)
				continue
			}
			fn(ev, []byte(msg.Payload))
		}
	}
}
