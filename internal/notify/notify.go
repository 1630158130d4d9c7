// Package notify tells the crew about new cases and processed documents.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// Field is a labelled value shown below the message text.
type Field struct {
	Title string
	Value string
}

// Message is a notification independent of the delivery channel.
type Message struct {
	Title    string
	Text     string
	Fields   []Field
	Link     string
	LinkText string
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// MapsLink returns a map search link for a location.
func MapsLink(location string) string {
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(location)
}

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewSlack creates a notifier posting to the given incoming webhook URL.
func NewSlack(webhookURL string, logger *slog.Logger) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     cleanhttp.DefaultClient(),
		logger:     logger.With("component", "notify"),
	}
}

func (s *Slack) Notify(ctx context.Context, msg Message) error {
	attachment := slack.Attachment{
		Color:    "danger",
		Title:    msg.Title,
		Text:     msg.Text,
		Fallback: msg.Title,
	}
	for _, f := range msg.Fields {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: f.Title,
			Value: f.Value,
			Short: len(f.Value) < 40,
		})
	}
	if msg.Link != "" {
		attachment.TitleLink = msg.Link
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, &slack.WebhookMessage{
		Text:        msg.Title,
		Attachments: []slack.Attachment{attachment},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to post slack notification", goerr.V("title", msg.Title))
	}
	s.logger.Debug("sent notification", "title", msg.Title)
	return nil
}

// Log writes notifications to the log. It is used when no webhook is set.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(_ context.Context, msg Message) error {
	attrs := []any{"title", msg.Title, "text", msg.Text}
	for _, f := range msg.Fields {
		attrs = append(attrs, f.Title, f.Value)
	}
	if msg.Link != "" {
		attrs = append(attrs, "link", msg.Link)
	}
	l.logger.Info("notification", attrs...)
	return nil
}
