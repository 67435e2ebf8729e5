package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schema string

// Postgres implements DistanceCache, RunStore and Outbox over database/sql with the
// pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) GetMany(ctx context.Context, keys []string) (map[string]Cost, error) {
	out := make(map[string]Cost, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT pair_key, distance_meters, duration_seconds
		FROM distance_cache
		WHERE pair_key = ANY($1::text[])
			AND (expires_at IS NULL OR expires_at > now())`, keys)
	if err != nil {
		return nil, fmt.Errorf("get distance cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var c Cost
		if err := rows.Scan(&k, &c.Meters, &c.Seconds); err != nil {
			return nil, fmt.Errorf("get distance cache: scan: %w", err)
		}
		out[k] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get distance cache: rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) PutMany(ctx context.Context, entries map[string]Cost, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	var exp any
	if ttl > 0 {
		exp = time.Now().Add(ttl).UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put distance cache: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO distance_cache (pair_key, distance_meters, duration_seconds, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair_key) DO UPDATE
		SET distance_meters = EXCLUDED.distance_meters,
			duration_seconds = EXCLUDED.duration_seconds,
			expires_at = EXCLUDED.expires_at`)
	if err != nil {
		return fmt.Errorf("put distance cache: prepare: %w", err)
	}
	defer stmt.Close()
	for k, c := range entries {
		if _, err := stmt.ExecContext(ctx, k, c.Meters, c.Seconds, exp); err != nil {
			return fmt.Errorf("put distance cache key=%q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put distance cache: commit: %w", err)
	}
	return nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM distance_cache`)
	return err
}

func (p *Postgres) SaveRun(ctx context.Context, r Run) error {
	var results any
	if len(r.Results) > 0 {
		results = []byte(r.Results)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, status, error, optimize_type, vehicles, demands, seed,
			iterations, best_cost, missing, unacceptable, duration_ms, results)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error, iterations = EXCLUDED.iterations,
			best_cost = EXCLUDED.best_cost, missing = EXCLUDED.missing,
			unacceptable = EXCLUDED.unacceptable, duration_ms = EXCLUDED.duration_ms,
			results = EXCLUDED.results`,
		r.ID, r.CreatedAt.UTC(), r.Status, nullIfEmpty(r.Error), r.OptimizeType, r.Vehicles, r.Demands, r.Seed,
		r.Iterations, r.BestCost, r.Missing, r.Unacceptable, r.DurationMs, results)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, created_at, status, COALESCE(error, ''), optimize_type, vehicles, demands, seed,
	iterations, best_cost, missing, unacceptable, duration_ms, results`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var results []byte
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Status, &r.Error, &r.OptimizeType, &r.Vehicles, &r.Demands, &r.Seed,
		&r.Iterations, &r.BestCost, &r.Missing, &r.Unacceptable, &r.DurationMs, &results)
	if len(results) > 0 {
		r.Results = json.RawMessage(results)
	}
	return r, err
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		// the list view omits the full result payload
		r.Results = nil
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveWeights(ctx context.Context, runID string, snaps []WeightSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, s := range snaps {
		rem, _ := json.Marshal(s.Removal)
		ins, _ := json.Marshal(s.Insertion)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_weights (run_id, round, trial, iteration, removal, insertion, best_cost)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (run_id, round, trial, iteration) DO NOTHING`,
			runID, s.Round, s.Trial, s.Iteration, rem, ins, s.BestCost); err != nil {
			return fmt.Errorf("save weights %s: %w", runID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListWeights(ctx context.Context, runID string) ([]WeightSnapshot, error) {
	if _, err := p.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT round, trial, iteration, removal, insertion, best_cost
		FROM run_weights WHERE run_id = $1
		ORDER BY round, trial, iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("list weights %s: %w", runID, err)
	}
	defer rows.Close()
	out := []WeightSnapshot{}
	for rows.Next() {
		var s WeightSnapshot
		var rem, ins []byte
		if err := rows.Scan(&s.Round, &s.Trial, &s.Iteration, &rem, &ins, &s.BestCost); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(rem, &s.Removal)
		_ = json.Unmarshal(ins, &s.Insertion)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, event_type, url, secret, payload)
		VALUES ($1,$2,$3,$4,$5)`, id, eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_type, url, COALESCE(secret, ''), payload, status, attempts, next_attempt_at
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due deliveries: %w", err)
	}
	defer rows.Close()
	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status = 'delivered', attempts = attempts + 1, delivered_at = now(),
				last_error = NULL, response_code = $2, latency_ms = $3
			WHERE id = $1`, id, responseCode, latencyMs)
		return err
	}
	next := time.Now().UTC()
	if nextAttemptAt != nil {
		next = nextAttemptAt.UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3,
			response_code = $4, latency_ms = $5
		WHERE id = $1`, id, next, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = attempts + 1, last_error = $2,
			response_code = $3, latency_ms = $4
		WHERE id = $1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
