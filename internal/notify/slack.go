package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/elmerpm/elmer/internal/automation"
	slackapi "github.com/slack-go/slack"
)

const maxRetries = 3

// Slack posts gate notifications to an incoming webhook.
type Slack struct {
	url  string
	post func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error
}

// NewSlack creates a Slack notifier for the given webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{url: webhookURL, post: slackapi.PostWebhookContext}
}

// GateReached posts the gate as an attachment.
func (s *Slack) GateReached(ctx context.Context, g automation.Gate) error {
	msg := &slackapi.WebhookMessage{
		Text: summary(g),
		Attachments: []slackapi.Attachment{{
			Color: "#e8a33d",
			Fields: []slackapi.AttachmentField{
				{Title: "Project", Value: g.ProjectID, Short: true},
				{Title: "Stage", Value: g.Stage, Short: true},
				{Title: "Workspace", Value: g.WorkspaceID, Short: true},
				{Title: "Reason", Value: string(g.Reason), Short: true},
			},
		}},
	}
	err := retryOnRateLimit(ctx, func() error { return s.post(ctx, s.url, msg) })
	if err != nil {
		return fmt.Errorf("notify: slack: %w", err)
	}
	return nil
}

// retryOnRateLimit retries fn while Slack reports rate limiting.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
