package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goslack "github.com/slack-go/slack"
)

// Notifier pushes alert notifications to one Slack channel. Whether it is
// operational is decided once at construction: both a bot token and a
// channel are required, and a notifier built without them swallows every
// post (alert posts are logged at debug, resolution notices are dropped
// silently) so callers never branch on configuration.
type Notifier struct {
	api     *goslack.Client // nil when disabled
	channel string
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. Missing configuration yields a disabled
// notifier and logs which piece was absent.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	n := &Notifier{channel: channel, logger: logger}
	switch {
	case botToken == "":
		logger.Debug("slack notifier disabled: no bot token")
	case channel == "":
		logger.Debug("slack notifier disabled: no alert channel")
	default:
		n.api = goslack.New(botToken)
	}
	return n
}

// IsEnabled reports whether posts will actually reach Slack.
func (n *Notifier) IsEnabled() bool {
	return n.api != nil
}

// PostAlert sends a breach notification, retrying transient Slack failures
// with exponential backoff.
func (n *Notifier) PostAlert(ctx context.Context, a Alert) error {
	if n.api == nil {
		n.logger.Debug("slack disabled, dropping alert notification",
			"threshold", a.Threshold,
			"severity", a.Severity,
		)
		return nil
	}

	text := fmt.Sprintf("%s *%s*: %s (value %.3f)", severityEmoji(a.Severity), a.Threshold, a.Message, a.Value)
	opts := []goslack.MsgOption{
		goslack.MsgOptionText(text, false),
	}

	post := func() error {
		_, _, err := n.api.PostMessageContext(ctx, n.channel, opts...)
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(post, bo); err != nil {
		return fmt.Errorf("posting alert to slack: %w", err)
	}

	n.logger.Info("posted alert to slack",
		"threshold", a.Threshold,
		"severity", a.Severity,
		"channel", n.channel,
	)
	return nil
}

// PostResolved sends a resolution notice. Failures are logged, not retried.
func (n *Notifier) PostResolved(ctx context.Context, threshold string, resolvedAt time.Time) {
	if n.api == nil {
		return
	}
	text := fmt.Sprintf(":white_check_mark: *%s* resolved at %s", threshold, resolvedAt.UTC().Format(time.RFC3339))
	if _, _, err := n.api.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn("posting resolution to slack", "threshold", threshold, "error", err)
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}
