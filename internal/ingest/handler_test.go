package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/models"
)

func withProject(r *http.Request, projectID string) *http.Request {
	ctx := context.WithValue(r.Context(), projectContextKey,
		&models.Project{ID: projectID, Name: projectID})
	return r.WithContext(ctx)
}

func postEvent(t *testing.T, h *Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req = withProject(req, "proj-a")
	rec := httptest.NewRecorder()
	switch path {
	case "/v1/ingest":
		h.HandleEvent(rec, req)
	case "/v1/ingest/batch":
		h.HandleBatch(rec, req)
	}
	return rec
}

const validEvent = `{"error_type":"TypeError","message":"boom","environment":"production","release":"1.0.0"}`

func TestHandleEventAcceptsAndEnqueues(t *testing.T) {
	events := make(chan *models.ProcessedEvent, 1)
	h := NewHandler(events, DefaultLimits(), zap.NewNop())

	rec := postEvent(t, h, "/v1/ingest", validEvent)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	ev := <-events
	if ev.ProjectID != "proj-a" {
		t.Errorf("project = %q", ev.ProjectID)
	}
	if ev.Fingerprint == "" {
		t.Error("fingerprint not computed")
	}
	if len(ev.Fingerprint) != 16 {
		t.Errorf("fingerprint = %q, want 16 hex chars", ev.Fingerprint)
	}
	if ev.ReceivedAt == 0 {
		t.Error("ReceivedAt not set")
	}
}

func TestHandleEventKeepsClientFingerprint(t *testing.T) {
	events := make(chan *models.ProcessedEvent, 1)
	h := NewHandler(events, DefaultLimits(), zap.NewNop())

	body := `{"error_type":"E","message":"m","environment":"prod","release":"1","fingerprint":"cafecafecafecafe"}`
	rec := postEvent(t, h, "/v1/ingest", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	ev := <-events
	if ev.Fingerprint != "cafecafecafecafe" {
		t.Errorf("fingerprint = %q, client value not honored", ev.Fingerprint)
	}
}

func TestHandleEventValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing error_type", `{"message":"m","environment":"p","release":"1"}`},
		{"missing message", `{"error_type":"E","environment":"p","release":"1"}`},
		{"missing environment", `{"error_type":"E","message":"m","release":"1"}`},
		{"missing release", `{"error_type":"E","message":"m","environment":"p"}`},
		{"oversize message", `{"error_type":"E","message":"` + strings.Repeat("a", 5<<10) + `","environment":"p","release":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan *models.ProcessedEvent, 1)
			h := NewHandler(events, DefaultLimits(), zap.NewNop())
			rec := postEvent(t, h, "/v1/ingest", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			select {
			case <-events:
				t.Error("invalid event reached the pipeline")
			default:
			}
		})
	}
}

func TestHandleEventShedsWhenChannelFull(t *testing.T) {
	events := make(chan *models.ProcessedEvent) // unbuffered, nothing reads
	h := NewHandler(events, DefaultLimits(), zap.NewNop())

	rec := postEvent(t, h, "/v1/ingest", validEvent)
	// Shedding still acknowledges: SDKs must not retry-storm.
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 when shedding", rec.Code)
	}
}

func TestHandleBatch(t *testing.T) {
	events := make(chan *models.ProcessedEvent, 10)
	limits := DefaultLimits()
	limits.MaxBatchSize = 2
	h := NewHandler(events, limits, zap.NewNop())

	rec := postEvent(t, h, "/v1/ingest/batch", "["+validEvent+","+validEvent+"]")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Data struct {
			Accepted int `json:"accepted"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Data.Accepted)
	}
	if len(events) != 2 {
		t.Errorf("enqueued = %d, want 2", len(events))
	}
}

func TestHandleBatchRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty batch", `[]`},
		{"oversize batch", "[" + validEvent + "," + validEvent + "," + validEvent + "]"},
		{"one invalid event rejects all", "[" + validEvent + `,{"message":"m"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan *models.ProcessedEvent, 10)
			limits := DefaultLimits()
			limits.MaxBatchSize = 2
			h := NewHandler(events, limits, zap.NewNop())

			rec := postEvent(t, h, "/v1/ingest/batch", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(events) != 0 {
				t.Errorf("enqueued = %d, want 0 on rejected batch", len(events))
			}
		})
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	var served int
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))

	do := func(project string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(nil))
		req = withProject(req, project)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2 passes, third is limited.
	if code := do("proj-a"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do("proj-a"); code != http.StatusOK {
		t.Fatalf("second request: %d", code)
	}
	if code := do("proj-a"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}

	// Tenants do not share buckets.
	if code := do("proj-b"); code != http.StatusOK {
		t.Fatalf("other tenant limited: %d", code)
	}
	if served != 3 {
		t.Errorf("served = %d, want 3", served)
	}
}
