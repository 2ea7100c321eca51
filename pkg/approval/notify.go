package approval

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
)

// Notifier posts approval lifecycle notices to the Slack channel given
// to NewNotifier. A nil
// *Notifier is valid and simply does not notify (Slack wiring is
// optional — see SPEC_FULL §3).
type Notifier struct {
	client  *slack.Client
	channel string
	log     logr.Logger
}

// NewNotifier builds a Notifier that posts to channel using token.
func NewNotifier(token, channel string, log logr.Logger) *Notifier {
	return &Notifier{client: slack.New(token), channel: channel, log: log}
}

// Requested announces a new approval gate.
func (n *Notifier) Requested(ctx context.Context, runID, gateID, requester, reason string) {
	if n == nil {
		return
	}
	n.post(ctx, fmt.Sprintf(":raised_hand: Gate `%s` on run `%s` requested by *%s*: %s", gateID, runID, requester, reason))
}

// ExpiredDenied announces a TTL-worker-driven expiry denial.
func (n *Notifier) ExpiredDenied(ctx context.Context, runID, gateID string) {
	if n == nil {
		return
	}
	n.post(ctx, fmt.Sprintf(":hourglass_flowing_sand: Gate `%s` on run `%s` expired and was denied", gateID, runID))
}

func (n *Notifier) post(ctx context.Context, text string) {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.log.Error(err, "slack notification failed", "channel", n.channel)
	}
}
