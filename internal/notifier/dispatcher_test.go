package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/models"
)

// fakeMail records sent messages.
type fakeMail struct {
	mu   sync.Mutex
	sent [][]byte
	to   [][]string
	err  error
}

func (f *fakeMail) Send(ctx context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	f.to = append(f.to, to)
	return nil
}

func TestDispatchSlackPayload(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(nil, "", zap.NewNop())
	d.DispatchToChannels(context.Background(), "db errors", "too many failures",
		[]models.ChannelConfig{models.SlackChannel{WebhookURL: srv.URL}})

	want := "*[alert: db errors]*\ntoo many failures"
	if body["text"] != want {
		t.Errorf("slack text = %q, want %q", body["text"], want)
	}
}

func TestDispatchWebhookPayload(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(nil, "", zap.NewNop())
	fixed := time.Unix(1700000000, 0)
	d.now = func() time.Time { return fixed }

	d.DispatchToChannels(context.Background(), "new issue", "TypeError: boom",
		[]models.ChannelConfig{models.WebhookChannel{URL: srv.URL}})

	if body["rule"] != "new issue" {
		t.Errorf("rule = %v, want %q", body["rule"], "new issue")
	}
	if body["message"] != "TypeError: boom" {
		t.Errorf("message = %v", body["message"])
	}
	if body["source"] != "emberwatch" {
		t.Errorf("source = %v, want emberwatch", body["source"])
	}
	if ts, ok := body["timestamp"].(float64); !ok || int64(ts) != fixed.Unix() {
		t.Errorf("timestamp = %v, want %d", body["timestamp"], fixed.Unix())
	}
}

func TestDispatchOneFailureDoesNotBlockOthers(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	mail := &fakeMail{}
	d := NewDispatcher(mail, "alerts@example.com", zap.NewNop())

	// Slack points at a closed port; webhook and email must still land.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	d.DispatchToChannels(context.Background(), "rule-a", "msg",
		[]models.ChannelConfig{
			models.SlackChannel{WebhookURL: dead.URL},
			models.WebhookChannel{URL: srv.URL},
			models.EmailChannel{To: "ops@example.com"},
		})

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("webhook hits = %d, want 1", hits)
	}
	mail.mu.Lock()
	defer mail.mu.Unlock()
	if len(mail.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(mail.sent))
	}
	msg := string(mail.sent[0])
	if !strings.Contains(msg, "Subject: [alert] rule-a") {
		t.Errorf("email missing subject, got:\n%s", msg)
	}
	if mail.to[0][0] != "ops@example.com" {
		t.Errorf("email recipient = %v", mail.to[0])
	}
}

func TestDispatchDoesNotFollowRedirects(t *testing.T) {
	var followed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hook":
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		case "/elsewhere":
			followed = true
		}
	}))
	defer srv.Close()

	d := NewDispatcher(nil, "", zap.NewNop())
	err := d.postJSON(context.Background(), srv.URL+"/hook", map[string]string{"k": "v"})
	if err == nil {
		t.Error("expected non-2xx error for redirect response")
	}
	if followed {
		t.Error("dispatcher followed a redirect")
	}
}

func TestDispatchNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "upstream broke")
	}))
	defer srv.Close()

	d := NewDispatcher(nil, "", zap.NewNop())
	err := d.postJSON(context.Background(), srv.URL, map[string]string{"k": "v"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %v, want status 500 mention", err)
	}
}

func TestDispatchEmailWithoutTransportIsSkipped(t *testing.T) {
	d := NewDispatcher(nil, "", zap.NewNop())
	// Must not panic or error; delivery is simply skipped.
	d.DispatchToChannels(context.Background(), "rule-a", "msg",
		[]models.ChannelConfig{models.EmailChannel{To: "ops@example.com"}})
}

func TestDispatchEmailInvalidRecipientIsSkipped(t *testing.T) {
	mail := &fakeMail{}
	d := NewDispatcher(mail, "alerts@example.com", zap.NewNop())
	d.DispatchToChannels(context.Background(), "rule-a", "msg",
		[]models.ChannelConfig{models.EmailChannel{To: "not an address"}})

	mail.mu.Lock()
	defer mail.mu.Unlock()
	if len(mail.sent) != 0 {
		t.Errorf("emails sent = %d, want 0", len(mail.sent))
	}
}
