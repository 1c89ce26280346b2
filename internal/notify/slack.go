package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackSender delivers notifications through the Slack Web API.
// Recipients are channel or user IDs.
type SlackSender struct {
	api *slack.Client
}

// NewSlackSender creates a sender with the given bot token.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{api: slack.New(token)}
}

// Send implements Sender.
func (s *SlackSender) Send(ctx context.Context, _ string, recipients []string, body string) error {
	for _, recipient := range recipients {
		_, _, err := s.api.PostMessageContext(ctx, recipient,
			slack.MsgOptionText(body, false))
		if err != nil {
			return fmt.Errorf("failed to post to %s: %w", recipient, err)
		}
	}
	return nil
}
