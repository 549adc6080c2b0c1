package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/transition"
)

const defaultWebhookTemplate = `{"instance":{{ toJson .Instance }},"generated_at":"{{ .GeneratedAt.Format "2006-01-02T15:04:05Z07:00" }}","transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Instance    string
	Transitions []WebhookTransition
	GeneratedAt time.Time
}

// WebhookTransition is the JSON shape of a transition in webhook payloads.
type WebhookTransition struct {
	Service        string   `json:"service"`
	PreviousStatus string   `json:"previous_status"`
	CurrentStatus  string   `json:"current_status"`
	HTTPStatus     *int     `json:"http_status"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Errors         []string `json:"errors"`
	RequestID      string   `json:"request_id"`
	DurationMS     int64    `json:"duration_ms"`
}

// WebhookNotifier sends transition notifications to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, instance string, transitions []transition.ServiceTransition) error {
	if len(transitions) == 0 || n == nil {
		return nil
	}

	label := instanceLabel(instance)
	if err := n.poster.waitForRateLimit(ctx, label); err != nil {
		return err
	}

	payload := WebhookPayload{
		Instance:    label,
		Transitions: webhookTransitions(transitions),
		GeneratedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.postWithRetry(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("instance", label).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")

	return nil
}

func webhookTransitions(transitions []transition.ServiceTransition) []WebhookTransition {
	out := make([]WebhookTransition, 0, len(transitions))
	for _, change := range transitions {
		errs := change.Errors
		if errs == nil {
			errs = []string{}
		}
		out = append(out, WebhookTransition{
			Service:        change.Name,
			PreviousStatus: string(change.PreviousStatus),
			CurrentStatus:  string(change.CurrentStatus),
			HTTPStatus:     change.HTTPStatus,
			Endpoint:       change.Endpoint,
			Errors:         errs,
			RequestID:      change.RequestID,
			DurationMS:     change.DurationMS,
		})
	}
	return out
}
