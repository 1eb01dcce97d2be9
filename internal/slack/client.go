// Package slack is the chat-platform transport: it receives Events API
// callbacks and slash commands and delivers replies with chat.postMessage.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Poster delivers a message to a chat-platform channel.
type Poster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) error
}

// Client posts messages through the Slack Web API.
type Client struct {
	api *slack.Client
}

// NewClient creates a Client for a bot token. Options are passed through to
// the underlying slack client, e.g. slack.OptionAPIURL in tests.
func NewClient(token string, opts ...slack.Option) *Client {
	return &Client{api: slack.New(token, opts...)}
}

// PostMessage sends text to channel, threaded under threadTS when set.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) error {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessageContext(ctx, channel, options...); err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}
