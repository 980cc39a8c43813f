package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/observability"
	"github.com/noah-isme/gema-sync/internal/syncer"
)

const statusBufferSize = 16

// StatusBroker fans connectivity and sync events out to stream subscribers.
// Slow subscribers miss events instead of blocking publishers.
type StatusBroker struct {
	mu          sync.RWMutex
	subscribers map[chan dto.StatusEvent]struct{}
	now         func() time.Time
}

// NewStatusBroker constructs an empty broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		subscribers: make(map[chan dto.StatusEvent]struct{}),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber; call the returned func to release it.
func (b *StatusBroker) Subscribe() (<-chan dto.StatusEvent, func()) {
	channel := make(chan dto.StatusEvent, statusBufferSize)

	b.mu.Lock()
	b.subscribers[channel] = struct{}{}
	b.mu.Unlock()
	observability.StatusStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, channel)
			close(channel)
			b.mu.Unlock()
			observability.StatusStreamClients().Dec()
		})
	}
	return channel, cleanup
}

// Subscribers returns the number of active subscribers.
func (b *StatusBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish delivers event to every subscriber without blocking.
func (b *StatusBroker) Publish(event dto.StatusEvent) {
	if event.At.IsZero() {
		event.At = b.now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Report implements syncer.Reporter.
func (b *StatusBroker) Report(_ context.Context, report syncer.Report) {
	summary := summaryFromReport(report)
	b.Publish(dto.StatusEvent{Event: dto.StatusEventSync, Sync: &summary, At: report.FinishedAt})
}

// Connectivity publishes a connectivity transition.
func (b *StatusBroker) Connectivity(transition connectivity.Transition) {
	online := transition.To == connectivity.Online
	b.Publish(dto.StatusEvent{
		Event:  dto.StatusEventConnectivity,
		Online: &online,
		Source: string(transition.Source),
		At:     transition.At,
	})
}
