package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API replica sees the
// runs solved by the others.
type RedisBroker struct {
	rdb *redis.Client
	log log.FieldLogger

	mu   sync.Mutex
	subs map[chan RunEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client, l log.FieldLogger) *RedisBroker {
	if l == nil {
		l = log.StandardLogger()
	}
	return &RedisBroker{rdb: rdb, log: l, subs: map[chan RunEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(topic string) chan RunEvent {
	ch := make(chan RunEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(topic))
	// wait for the subscription so a publish right after Subscribe is not lost
	if _, err := ps.Receive(ctx); err != nil {
		b.log.WithError(err).WithField("topic", topic).Warn("redis subscribe failed")
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt RunEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Pub/Sub connection; ch is closed once its reader drains.
func (b *RedisBroker) Unsubscribe(_ string, ch chan RunEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(topic string, evt RunEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(topic), data).Err(); err != nil {
		b.log.WithError(err).WithField("topic", topic).Warn("redis publish failed")
	}
}

func (b *RedisBroker) chanName(topic string) string { return "dispatch:events:" + topic }
