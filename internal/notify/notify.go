// Package notify publishes human-readable messages to named topics: the
// admin topic for failures that need manual action, and the backup topic for
// copies of every mutation.
package notify

import (
	"context"

	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
)

type Publisher interface {
	Publish(ctx context.Context, topic, subject, body string) error
}

// Message is the payload carried by publishers that serialise notifications.
type Message struct {
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BestEffort publishes and only logs a failure. Used where the caller is
// already reporting an error of its own.
func BestEffort(ctx context.Context, p Publisher, topic, subject, body string) {
	if err := p.Publish(ctx, topic, subject, body); err != nil {
		logger.Error("Failed to publish notification", "topic", topic, "subject", subject, "error", err)
		metrics.RecordNotification(topic, "failed")
		return
	}
	metrics.RecordNotification(topic, "sent")
}

// LogPublisher writes notifications to the structured log only.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic, subject, body string) error {
	logger.Info("Notification", "topic", topic, "subject", subject, "body", body)
	return nil
}
