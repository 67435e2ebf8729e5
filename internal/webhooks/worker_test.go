package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"moddispatch/internal/dispatch"
	"moddispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3, nil)
	w.HTTP = srv.Client()
	id, err := rs.Memory.EnqueueWebhook(context.Background(), dispatch.EventRunCompleted, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce(context.Background())

	if gotType != dispatch.EventRunCompleted {
		t.Fatalf("event type header: got %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
	if d, _ := rs.Delivery(id); d.Status != "delivered" {
		t.Fatalf("status: got %q", d.Status)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2, nil)
	w.HTTP = srv.Client()
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), dispatch.EventRunFailed, srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected one failed mark, got: %+v", rs.marks)
	}
	// the retry is scheduled in the future, so nothing is due now
	w.processOnce(context.Background())
	if len(rs.marks) != 1 || len(rs.fails) != 0 {
		t.Fatalf("retry ran early: marks=%+v fails=%+v", rs.marks, rs.fails)
	}

	d, _ := rs.Delivery(id)
	d.Attempts = 1
	w.deliver(context.Background(), d)
	if len(rs.fails) != 1 || rs.fails[0].LastErr != "status 500" {
		t.Fatalf("expected fail recorded, got: %+v", rs.fails)
	}
}

func TestPublisherEnqueuesMatchingTargets(t *testing.T) {
	mem := store.NewMemory()
	p := NewPublisher(mem, []Target{
		{URL: "http://all.example"},
		{URL: "http://failed-only.example", Secret: "s", Events: []string{dispatch.EventRunFailed}},
	}, nil)
	p.Notify(context.Background(), dispatch.Event{Type: dispatch.EventRunCompleted, RunID: "r1", Data: map[string]any{"status": "succeeded"}})

	due, err := mem.FetchDueWebhookDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].URL != "http://all.example" {
		t.Fatalf("unexpected deliveries: %+v", due)
	}
	var body map[string]any
	if err := json.Unmarshal(due[0].Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["type"] != dispatch.EventRunCompleted || body["runId"] != "r1" {
		t.Fatalf("unexpected payload: %s", due[0].Payload)
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(0); got != time.Second {
		t.Fatalf("attempt 0: %v", got)
	}
	if got := nextBackoff(3); got != 8*time.Second {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := nextBackoff(50); got != 1024*time.Second {
		t.Fatalf("capped attempts: %v", got)
	}
}

func TestSignVerify(t *testing.T) {
	sig := SignHMAC("k", []byte("body"))
	if !VerifyHMAC("k", []byte("body"), sig) || VerifyHMAC("k", []byte("other"), sig) || VerifyHMAC("k", []byte("body"), "zz") {
		t.Fatal("sign/verify mismatch")
	}
}
