// Package store persists what outlives a single solve: the distance cache, the run
// history and the webhook outbox.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Cost is a cached travel measure between two locations.
type Cost struct {
	Meters  int `json:"m"`
	Seconds int `json:"s"`
}

// DistanceCache maps opaque pair keys to costs. Writes are last-writer-wins and entries
// expire after the ttl given at write time.
type DistanceCache interface {
	GetMany(ctx context.Context, keys []string) (map[string]Cost, error)
	PutMany(ctx context.Context, entries map[string]Cost, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// Run is the record of one optimize call.
type Run struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"createdAt"`
	Status       string          `json:"status"` // succeeded | failed
	Error        string          `json:"error,omitempty"`
	OptimizeType string          `json:"optimizeType"`
	Vehicles     int             `json:"vehicles"`
	Demands      int             `json:"demands"`
	Seed         int64           `json:"seed"`
	Iterations   int             `json:"iterations"`
	BestCost     float64         `json:"bestCost"`
	Missing      int             `json:"missing"`
	Unacceptable int             `json:"unacceptable"`
	DurationMs   int64           `json:"durationMs"`
	Results      json.RawMessage `json:"results,omitempty"`
}

// WeightSnapshot is one periodic sample of a trial's adaptive operator weights.
type WeightSnapshot struct {
	Round     int       `json:"round"`
	Trial     int       `json:"trial"`
	Iteration int       `json:"iteration"`
	Removal   []float64 `json:"removal"`
	Insertion []float64 `json:"insertion"`
	BestCost  float64   `json:"bestCost"`
}

type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	SaveWeights(ctx context.Context, runID string, snaps []WeightSnapshot) error
	ListWeights(ctx context.Context, runID string) ([]WeightSnapshot, error)
}

// Outbox queues webhook deliveries for the delivery worker.
type Outbox interface {
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
