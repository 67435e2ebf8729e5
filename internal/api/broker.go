package api

import (
	"context"
	"sync"

	"moddispatch/internal/dispatch"
)

// TopicRuns receives every run event; each run also publishes on its own id.
const TopicRuns = "runs"

type RunEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans run events out to WebSocket subscribers.
type EventBroker interface {
	Subscribe(topic string) chan RunEvent
	Unsubscribe(topic string, ch chan RunEvent)
	Publish(topic string, evt RunEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan RunEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan RunEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan RunEvent {
	ch := make(chan RunEvent, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan RunEvent]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Broker) Publish(topic string, evt RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// BrokerNotifier publishes dispatch events on TopicRuns and on the run's own topic.
type BrokerNotifier struct {
	Broker EventBroker
}

func (n BrokerNotifier) Notify(_ context.Context, evt dispatch.Event) {
	data := make(map[string]any, len(evt.Data)+2)
	for k, v := range evt.Data {
		data[k] = v
	}
	data["runId"] = evt.RunID
	data["ts"] = evt.At
	re := RunEvent{Type: evt.Type, Data: data}
	n.Broker.Publish(TopicRuns, re)
	n.Broker.Publish(evt.RunID, re)
}
