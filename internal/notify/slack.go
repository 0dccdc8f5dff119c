package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

const maxRetries = 3

// webhookPoster matches slackapi.PostWebhookContext.
type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// SlackNotifier posts notices to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Username   string

	post webhookPoster
}

// NewSlack returns a notifier for the given incoming-webhook URL.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: webhookURL, Username: "xpdacq", post: slackapi.PostWebhookContext}
}

func (s *SlackNotifier) Notify(ctx context.Context, n Notice) error {
	if s.WebhookURL == "" {
		return errors.New("notify: slack webhook url is empty")
	}
	post := s.post
	if post == nil {
		post = slackapi.PostWebhookContext
	}
	msg := &slackapi.WebhookMessage{
		Username:    s.Username,
		Text:        n.Title,
		Attachments: []slackapi.Attachment{noticeToAttachment(n)},
	}
	err := retryOnRateLimit(ctx, func() error {
		return post(ctx, s.WebhookURL, msg)
	})
	if err != nil {
		return fmt.Errorf("notify: slack %s: %w", n.Kind, err)
	}
	return nil
}

// noticeToAttachment renders a notice as a Slack attachment.
func noticeToAttachment(n Notice) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    n.Title,
		Text:     n.Body,
		Color:    "warning",
		Fallback: n.Title,
		Footer:   n.Kind,
	}
	for _, k := range sortedKeys(n.Fields) {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: k,
			Value: n.Fields[k],
			Short: true,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
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
