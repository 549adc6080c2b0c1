package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/state"
	"github.com/nholik/connectivity-sentinel/internal/transition"
)

func TestWebhookNotifierTemplateRendering(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, `{"instance":"{{ .Instance }}","count":{{ len .Transitions }}}`)
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	transitions := []transition.ServiceTransition{
		{Name: "sendgrid", CurrentStatus: state.StatusDown},
	}

	if err := notifier.Notify(context.Background(), "prod", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if !strings.Contains(body, `"instance":"prod"`) {
		t.Fatalf("expected instance in payload, got %s", body)
	}
	if !strings.Contains(body, `"count":1`) {
		t.Fatalf("expected count in payload, got %s", body)
	}
}

func TestWebhookNotifierDefaultTemplateIsJSON(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	code := 401
	transitions := []transition.ServiceTransition{{
		Name:           "sendgrid",
		PreviousStatus: state.StatusUp,
		CurrentStatus:  state.StatusDegraded,
		HTTPStatus:     &code,
		RequestID:      "req-9",
	}}
	if err := notifier.Notify(context.Background(), "", transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	var decoded struct {
		Instance    string              `json:"instance"`
		GeneratedAt time.Time           `json:"generated_at"`
		Transitions []WebhookTransition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v (%s)", err, body)
	}
	if decoded.Instance != "default" {
		t.Fatalf("expected default instance, got %q", decoded.Instance)
	}
	if decoded.GeneratedAt.IsZero() {
		t.Fatalf("expected generated_at to be set")
	}
	if len(decoded.Transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(decoded.Transitions))
	}
	got := decoded.Transitions[0]
	if got.Service != "sendgrid" || got.CurrentStatus != "degraded" || got.HTTPStatus == nil || *got.HTTPStatus != 401 {
		t.Fatalf("unexpected transition payload: %+v", got)
	}
	if got.Errors == nil {
		t.Fatalf("expected errors to encode as an empty list")
	}
}

func TestWebhookNotifierRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	notifier.poster.timing.backoffInitial = time.Millisecond
	notifier.poster.timing.backoffMax = 2 * time.Millisecond
	notifier.poster.timing.backoffMaxElapsed = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, "prod", []transition.ServiceTransition{{Name: "ga4", CurrentStatus: state.StatusDown}}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifierTransportErrorHidesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := server.URL + "/hooks/T000/B000/secret-token"
	server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), target, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	err = notifier.poster.postOnce(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("expected webhook URL to be redacted, got %v", err)
	}
}

func TestWebhookNotifierEmptyURL(t *testing.T) {
	notifier, err := NewWebhookNotifier(zerolog.Nop(), "", "")
	if err != nil || notifier != nil {
		t.Fatalf("expected nil notifier without error, got %v, %v", notifier, err)
	}
	if err := notifier.Notify(context.Background(), "prod", makeTransitions(1)); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}

func TestWebhookNotifierInvalidTemplate(t *testing.T) {
	_, err := NewWebhookNotifier(zerolog.Nop(), "http://example.com", "{{")
	if err == nil {
		t.Fatalf("expected template error")
	}
}
