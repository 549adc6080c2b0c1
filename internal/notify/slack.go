package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/nholik/connectivity-sentinel/internal/state"
	"github.com/nholik/connectivity-sentinel/internal/transition"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
	// slackMaxErrors caps the error lines rendered per service.
	slackMaxErrors = 3
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, instance string, transitions []transition.ServiceTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	label := instanceLabel(instance)
	if err := n.poster.waitForRateLimit(ctx, label); err != nil {
		return err
	}

	messages := buildSlackMessages(label, transitions)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("instance", label).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func buildSlackMessages(instance string, transitions []transition.ServiceTransition) []slack.WebhookMessage {
	if len(transitions) == 0 {
		return nil
	}

	total := len(transitions)
	chunkTotal := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxTransitions {
		end := min(i+slackMaxTransitions, total)
		partIndex := (i / slackMaxTransitions) + 1
		messages = append(messages, buildSlackMessage(instance, transitions[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(instance string, transitions []transition.ServiceTransition, total int, partIndex int, partTotal int) slack.WebhookMessage {
	down := 0
	for _, change := range transitions {
		if change.CurrentStatus != state.StatusUp {
			down++
		}
	}
	summary := fmt.Sprintf("Connectivity %s: %d service change(s)", instance, total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Instance: *%s*", instance), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Failing in batch: %d", down), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildTransitionBlock(change transition.ServiceTransition) slack.Block {
	name := change.Name
	if change.DisplayName != "" {
		name = change.DisplayName
	}
	title := fmt.Sprintf("%s *%s*: `%s` → `%s`", statusEmoji(change.CurrentStatus), name, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 4)
	if change.HTTPStatus != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*HTTP:*\n%d", *change.HTTPStatus), false, false))
	}
	if change.Endpoint != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Endpoint:*\n`%s`", change.Endpoint), false, false))
	}
	if len(change.Errors) > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatErrors(change.Errors), false, false))
	}
	if change.RequestID != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Request:*\n`%s` (%dms)", change.RequestID, change.DurationMS), false, false))
	}
	if len(fields) == 0 {
		fields = nil
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatErrors(errs []string) string {
	shown := errs
	if len(shown) > slackMaxErrors {
		shown = shown[:slackMaxErrors]
	}
	text := "*Errors:*\n• " + strings.Join(shown, "\n• ")
	if extra := len(errs) - len(shown); extra > 0 {
		text += fmt.Sprintf("\n…and %d more", extra)
	}
	return text
}

func statusEmoji(status state.Status) string {
	switch status {
	case state.StatusUp:
		return ":large_green_circle:"
	case state.StatusDegraded:
		return ":large_yellow_circle:"
	default:
		return ":red_circle:"
	}
}

func statusLabel(status state.Status) string {
	if status == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(string(status))
}
