/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Queue entry lifecycle
	EventEntryScheduled   EventType = "entry.scheduled"
	EventEntryRescheduled EventType = "entry.rescheduled"
	EventEntryCancelled   EventType = "entry.cancelled"
	EventEntryPublished   EventType = "entry.published"
	EventEntryFailed      EventType = "entry.failed"

	// Policy administration
	EventPolicyCreated     EventType = "policy.created"
	EventPolicyUpdated     EventType = "policy.updated"
	EventPolicyDeactivated EventType = "policy.deactivated"

	// Batch processor
	EventPassCompleted EventType = "pass.completed"

	// EventAll subscribes to every event type. Payloads delivered to it carry
	// the concrete type under the "event" key.
	EventAll EventType = "*"
)

// AllEventTypes lists every concrete event type.
var AllEventTypes = []EventType{
	EventEntryScheduled,
	EventEntryRescheduled,
	EventEntryCancelled,
	EventEntryPublished,
	EventEntryFailed,
	EventPolicyCreated,
	EventPolicyUpdated,
	EventPolicyDeactivated,
	EventPassCompleted,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Delivery is best effort: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 64)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType and of EventAll. Sends
// never block, so the read lock is held for the whole fan-out and Unsubscribe
// cannot close a channel mid-send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}

	wildcard := b.subs[EventAll]
	if len(wildcard) == 0 {
		return
	}
	tagged := make(Payload, len(payload)+1)
	for k, v := range payload {
		tagged[k] = v
	}
	tagged["event"] = string(eventType)
	for _, sub := range wildcard {
		select {
		case sub <- tagged:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
