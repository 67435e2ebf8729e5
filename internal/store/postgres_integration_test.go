//go:build postgres_integration

package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()
	require.NoError(t, p.Migrate(ctx))

	key := "it-" + uuid.NewString()
	require.NoError(t, p.PutMany(ctx, map[string]Cost{key: {Meters: 10, Seconds: 2}}, time.Minute))
	got, err := p.GetMany(ctx, []string{key, "absent"})
	require.NoError(t, err)
	require.Equal(t, map[string]Cost{key: {Meters: 10, Seconds: 2}}, got)

	run := Run{ID: uuid.NewString(), CreatedAt: time.Now(), Status: "succeeded", OptimizeType: "time", Results: json.RawMessage(`[]`)}
	require.NoError(t, p.SaveRun(ctx, run))
	back, err := p.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.Status, back.Status)

	snaps := []WeightSnapshot{{Iteration: 50, Removal: []float64{1, 1, 1, 1}, Insertion: []float64{1, 1}, BestCost: 3}}
	require.NoError(t, p.SaveWeights(ctx, run.ID, snaps))
	ws, err := p.ListWeights(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, snaps, ws)

	_, err = p.GetRun(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}
