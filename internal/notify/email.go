package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"

	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
)

const (
	emailQueue       = "emails"
	emailFailedQueue = "emails:failed"
	maxEmailTries    = 3
)

type EmailJob struct {
	To      string    `json:"to"`
	Topic   string    `json:"topic"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type SMTPConfig struct {
	From     string
	FromName string
	Host     string
	Port     string
	User     string
	Pass     string
}

// EmailPublisher turns each notification into an email to the topic's
// recipient. Jobs are queued in Redis and sent by Start, which retries a
// failing job up to three times before moving it to the failed queue.
type EmailPublisher struct {
	redis      *redis.Client
	smtp       SMTPConfig
	recipients map[string]string
	retryDelay time.Duration
	send       func(EmailJob) error
}

func NewEmailPublisher(client *redis.Client, cfg SMTPConfig, recipients map[string]string) *EmailPublisher {
	p := &EmailPublisher{
		redis:      client,
		smtp:       cfg,
		recipients: recipients,
		retryDelay: 5 * time.Second,
	}
	p.send = p.sendNow
	return p
}

func (p *EmailPublisher) Publish(ctx context.Context, topic, subject, body string) error {
	to, ok := p.recipients[topic]
	if !ok {
		return fmt.Errorf("no email recipient for topic %s", topic)
	}

	job := EmailJob{
		To:      to,
		Topic:   topic,
		Subject: subject,
		Body:    body,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		logger.Errorf("Failed to marshal email job: %v", err)
		return err
	}

	if err := p.redis.LPush(ctx, emailQueue, string(data)).Err(); err != nil {
		logger.Errorf("Failed to queue email to %s: %v", to, err)
		return err
	}

	logger.Infof("Email queued: %s to %s", subject, to)
	return nil
}

func (p *EmailPublisher) Start(ctx context.Context) {
	logger.Info("Email publisher started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Email publisher stopped")
			return
		default:
			p.processNext(ctx)
		}
	}
}

func (p *EmailPublisher) processNext(ctx context.Context) {
	result, err := p.redis.BRPop(ctx, 2*time.Second, emailQueue).Result()
	if err != nil {
		return
	}

	var job EmailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Errorf("Bad email data: %v", err)
		return
	}

	job.Tries++
	logger.Infof("Sending email to %s (attempt %d)", job.To, job.Tries)
	if err := p.send(job); err != nil {
		logger.Errorf("Failed to send email to %s: %v", job.To, err)
		metrics.RecordNotification(job.Topic, "failed")

		if job.Tries < maxEmailTries {
			time.Sleep(p.retryDelay)
			data, _ := json.Marshal(job)
			p.redis.LPush(ctx, emailQueue, string(data))
			logger.Infof("Retrying email to %s (attempt %d)", job.To, job.Tries+1)
		} else {
			logger.Errorf("Email to %s failed after %d attempts", job.To, maxEmailTries)
			p.saveFailed(ctx, job, err)
		}
		return
	}

	metrics.RecordNotification(job.Topic, "sent")
	metrics.EmailQueueLength.Set(float64(p.QueueLength(ctx)))
	logger.Infof("Email sent successfully to %s", job.To)
}

func (p *EmailPublisher) sendNow(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", p.smtp.FromName, p.smtp.From)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if p.smtp.User != "" && p.smtp.Pass != "" {
		auth = smtp.PlainAuth("", p.smtp.User, p.smtp.Pass, p.smtp.Host)
	}

	addr := p.smtp.Host + ":" + p.smtp.Port
	return smtp.SendMail(addr, auth, p.smtp.From, []string{job.To}, []byte(message))
}

func (p *EmailPublisher) saveFailed(ctx context.Context, job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	p.redis.LPush(ctx, emailFailedQueue, string(data))
	logger.Errorf("Email moved to failed queue: %s", job.To)
}

func (p *EmailPublisher) QueueLength(ctx context.Context) int64 {
	length, _ := p.redis.LLen(ctx, emailQueue).Result()
	return length
}
