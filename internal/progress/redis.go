package progress

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const channelPrefix = "campaign:progress:"

// Channel returns the pub/sub channel carrying events for campaignID.
func Channel(campaignID string) string {
	return channelPrefix + campaignID
}

// RedisBroker publishes events over Redis pub/sub so API replicas and
// workers share one live feed.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker wraps an existing client. The caller owns the client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

// Publish implements Publisher.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "progress: marshal event")
	}
	if err := b.rdb.Publish(ctx, Channel(ev.CampaignID), payload).Err(); err != nil {
		return eris.Wrapf(err, "progress: publish %s", ev.Kind)
	}
	return nil
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, campaignID string) (<-chan Event, func(), error) {
	sub := b.rdb.Subscribe(ctx, Channel(campaignID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, eris.Wrapf(err, "progress: subscribe %s", campaignID)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					zap.L().Warn("progress: drop malformed event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, eris.Wrap(err, "progress: decode event")
	}
	return ev, nil
}
