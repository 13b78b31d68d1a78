// slacknotify.go is an optional, best-effort operational notifier: it
// announces webhook deliveries that reach DEAD so an operator watching the
// ops channel notices silently-failing integrations. It is not part of
// C7's delivery contract — a Slack outage never affects delivery outcomes.
package webhook

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/brokkr/broker/internal/store"
)

// SlackNotifier posts a message to a fixed ops channel when a delivery dies.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, the
// notifier is a noop.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a live client and channel.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyDead posts a best-effort message about a delivery that reached DEAD.
func (n *SlackNotifier) NotifyDead(delivery store.WebhookDelivery, sub store.WebhookSubscription) {
	if !n.IsEnabled() {
		return
	}
	text := fmt.Sprintf(":warning: webhook delivery %s to subscription %q (%s) exhausted retries for event %s",
		delivery.ID, sub.Name, sub.ID, delivery.EventType)

	if _, _, err := n.client.PostMessageContext(context.Background(), n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn("posting dead-delivery notice to slack", "error", err)
	}
}
