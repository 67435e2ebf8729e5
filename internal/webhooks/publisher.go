// Package webhooks turns run events into signed HTTP callbacks through the store outbox.
package webhooks

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/dispatch"
	"moddispatch/internal/store"
)

// Target is one webhook endpoint. An empty Events list receives every event type.
type Target struct {
	URL    string
	Secret string
	Events []string
}

func (t Target) wants(eventType string) bool {
	return len(t.Events) == 0 || slices.Contains(t.Events, eventType)
}

// Publisher enqueues a delivery per matching target; the Worker sends them.
type Publisher struct {
	Outbox  store.Outbox
	Targets []Target
	Log     log.FieldLogger
}

func NewPublisher(o store.Outbox, targets []Target, l log.FieldLogger) *Publisher {
	if l == nil {
		l = log.StandardLogger()
	}
	return &Publisher{Outbox: o, Targets: targets, Log: l}
}

// Notify implements dispatch.Notifier.
func (p *Publisher) Notify(ctx context.Context, evt dispatch.Event) {
	p.Emit(ctx, evt.Type, evt.RunID, evt.Data)
}

// Emit enqueues eventType for every subscribed target.
func (p *Publisher) Emit(ctx context.Context, eventType, runID string, data any) {
	body, err := json.Marshal(map[string]any{
		"id":    "evt_" + uuid.NewString(),
		"type":  eventType,
		"runId": runID,
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"data":  data,
	})
	if err != nil {
		p.Log.WithError(err).WithField("event_type", eventType).Warn("webhook payload encode failed")
		return
	}
	for _, t := range p.Targets {
		if !t.wants(eventType) {
			continue
		}
		if _, err := p.Outbox.EnqueueWebhook(ctx, eventType, t.URL, t.Secret, body); err != nil {
			p.Log.WithError(err).WithFields(log.Fields{"event_type": eventType, "url": t.URL}).Warn("webhook enqueue failed")
		}
	}
}
