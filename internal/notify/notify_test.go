package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"courtbooking/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeChannel struct {
	mock.Mock
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := f.Called(exchange, key, msg)
	return args.Error(0)
}

func (f *fakeChannel) Close() error {
	return nil
}

func TestAMQPPublish(t *testing.T) {
	ch := &fakeChannel{}
	now := time.Date(2016, 7, 21, 9, 0, 0, 0, time.UTC)
	p := &AMQPPublisher{ch: ch, exchange: "courtbooking.notifications", now: func() time.Time { return now }}

	ch.On("PublishWithContext", "courtbooking.notifications", "backup", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var m Message
		if err := json.Unmarshal(msg.Body, &m); err != nil {
			return false
		}
		return m.Subject == "Court booking single booking backup" && m.Body == "Booking created:" &&
			msg.ContentType == "application/json" && msg.Timestamp.Equal(now)
	})).Return(nil)

	err := p.Publish(context.Background(), "backup", "Court booking single booking backup", "Booking created:")
	require.NoError(t, err)
	ch.AssertExpectations(t)
}

func TestAMQPPublishError(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "x", now: time.Now}

	ch.On("PublishWithContext", "x", "admin", mock.Anything).Return(errors.New("channel closed"))

	err := p.Publish(context.Background(), "admin", "s", "b")
	assert.Error(t, err)
}

func TestEmailPublishQueuesJob(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	p := NewEmailPublisher(db, SMTPConfig{From: "noreply@courtbooking.local"}, map[string]string{"admin": "admin@club.test"})

	rmock.Regexp().ExpectLPush("emails", `.*admin@club.test.*`).SetVal(1)

	err := p.Publish(context.Background(), "admin", "Rules failed", "body")
	assert.NoError(t, err)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestEmailPublishUnknownTopic(t *testing.T) {
	db, _ := redismock.NewClientMock()
	p := NewEmailPublisher(db, SMTPConfig{}, map[string]string{})

	assert.Error(t, p.Publish(context.Background(), "backup", "s", "b"))
}

func TestEmailProcessNextRequeuesFailedSend(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	p := NewEmailPublisher(db, SMTPConfig{}, nil)
	p.retryDelay = 0
	p.send = func(EmailJob) error { return errors.New("smtp down") }

	data, _ := json.Marshal(EmailJob{To: "admin@club.test", Topic: "admin", Subject: "s", Body: "b"})
	rmock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(data)})
	rmock.Regexp().ExpectLPush("emails", `.*"tries":1.*`).SetVal(1)

	p.processNext(context.Background())
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestEmailProcessNextGivesUp(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	p := NewEmailPublisher(db, SMTPConfig{}, nil)
	p.send = func(EmailJob) error { return errors.New("smtp down") }

	data, _ := json.Marshal(EmailJob{To: "admin@club.test", Topic: "admin", Tries: 2})
	rmock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(data)})
	rmock.Regexp().ExpectLPush("emails:failed", `.*smtp down.*`).SetVal(1)

	p.processNext(context.Background())
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestEmailProcessNextSends(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	p := NewEmailPublisher(db, SMTPConfig{}, nil)
	var sent EmailJob
	p.send = func(job EmailJob) error {
		sent = job
		return nil
	}

	data, _ := json.Marshal(EmailJob{To: "admin@club.test", Topic: "admin", Subject: "s"})
	rmock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(data)})
	rmock.ExpectLLen("emails").SetVal(0)

	p.processNext(context.Background())
	assert.Equal(t, "admin@club.test", sent.To)
	assert.Equal(t, 1, sent.Tries)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), "admin", "s", "b"))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, string) error {
	return errors.New("down")
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		BestEffort(context.Background(), failingPublisher{}, "admin", "s", "b")
	})
}
