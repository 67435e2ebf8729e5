package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"moddispatch/internal/metrics"
	"moddispatch/internal/store"
)

type Worker struct {
	Store       store.Outbox
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	Log         log.FieldLogger
}

func NewWorker(s store.Outbox, maxAttempts int, l log.FieldLogger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if l == nil {
		l = log.StandardLogger()
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Interval: time.Second, Log: l}
}

// Run polls the outbox until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.WithError(err).Warn("fetch webhook deliveries failed")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	code := 0
	lastErr := ""
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		req.Header.Set("X-Delivery-Id", it.ID)
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
			if !success {
				lastErr = "status " + strconv.Itoa(code)
			}
		}
	}
	if err != nil {
		lastErr = err.Error()
	}
	latency := int(time.Since(start).Milliseconds())

	status := "delivered"
	switch {
	case success:
	case it.Attempts+1 >= w.MaxAttempts:
		status = "failed"
	default:
		status = "retry"
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))

	l := w.Log.WithFields(log.Fields{"delivery_id": it.ID, "event_type": it.EventType, "attempt": it.Attempts + 1, "code": code})
	if status == "failed" {
		l.WithField("error", lastErr).Warn("webhook delivery gave up")
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			l.WithError(err).Warn("webhook fail update failed")
		}
		return
	}
	if status == "retry" {
		l.WithField("error", lastErr).Info("webhook delivery will retry")
	}
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		l.WithError(err).Warn("webhook mark update failed")
	}
}

func nextBackoff(attempts int) time.Duration {
	attempts = min(max(attempts, 0), 10)
	return min(time.Second*time.Duration(1<<attempts), time.Hour)
}
