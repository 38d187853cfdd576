// Package progress fans run progress out to live observers.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a progress event.
type Kind string

const (
	KindRunStatus    Kind = "run.status"
	KindRunProgress  Kind = "run.progress"
	KindStepRecorded Kind = "step.recorded"
	KindLeadCreated  Kind = "lead.created"
	KindLeadUpdated  Kind = "lead.updated"
	KindActivity     Kind = "activity"
)

// Event is one live update for a campaign.
type Event struct {
	Kind       Kind            `json:"kind"`
	CampaignID string          `json:"campaign_id"`
	RunID      string          `json:"run_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEvent builds an event, encoding data as JSON. Unencodable data is
// dropped and logged.
func NewEvent(kind Kind, campaignID, runID string, data any) Event {
	ev := Event{Kind: kind, CampaignID: campaignID, RunID: runID, At: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			zap.L().Warn("progress: encode event data", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			ev.Data = raw
		}
	}
	return ev
}

// Publisher emits progress events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broker is a Publisher that observers can subscribe to.
type Broker interface {
	Publisher
	// Subscribe returns a channel of events for campaignID and a cancel
	// function that closes it.
	Subscribe(ctx context.Context, campaignID string) (<-chan Event, func(), error)
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

const subscriberBuffer = 64

// MemoryBroker delivers events to in-process subscribers. Slow subscribers
// drop events rather than block publishers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]chan struct{}
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Event]chan struct{})}
}

// Publish implements Publisher.
func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.CampaignID] {
		select {
		case ch <- ev:
		default:
			zap.L().Debug("progress: subscriber full, dropping event",
				zap.String("campaign_id", ev.CampaignID), zap.String("kind", string(ev.Kind)))
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(ctx context.Context, campaignID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	done := make(chan struct{})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	if b.subs[campaignID] == nil {
		b.subs[campaignID] = make(map[chan Event]chan struct{})
	}
	b.subs[campaignID][ch] = done
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(campaignID, ch)
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// remove drops one subscriber. b.mu must be held.
func (b *MemoryBroker) remove(campaignID string, ch chan Event) {
	done, ok := b.subs[campaignID][ch]
	if !ok {
		return
	}
	delete(b.subs[campaignID], ch)
	if len(b.subs[campaignID]) == 0 {
		delete(b.subs, campaignID)
	}
	close(ch)
	close(done)
}

// Close closes every subscriber channel.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, set := range b.subs {
		for ch := range set {
			b.remove(id, ch)
		}
	}
	b.closed = true
	return nil
}

// Subscribers returns the number of live subscribers for campaignID.
func (b *MemoryBroker) Subscribers(campaignID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[campaignID])
}
