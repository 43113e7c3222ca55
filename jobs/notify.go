package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-feed/odyssey-feed/internal/channels"
	jobmetrics "github.com/odyssey-feed/odyssey-feed/internal/jobs"
)

// Sender delivers one notification to its audience.
type Sender interface {
	Send(ctx context.Context, n channels.Notification) error
}

// LogSender writes notifications to the log.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, n channels.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("channel", n.ChannelID),
		slog.String("activity", n.ActivityID),
		slog.String("title", n.Title),
		slog.String("body", n.Body))
	return nil
}

// InboxSender appends notifications to a capped per-channel Redis list that
// clients poll.
type InboxSender struct {
	Client *redis.Client
	Keep   int64
	TTL    time.Duration
}

// InboxKey returns the Redis list holding a channel's notifications.
func InboxKey(channelID string) string {
	return "inbox:channel:" + channelID
}

// Send implements Sender.
func (s InboxSender) Send(ctx context.Context, n channels.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	keep := s.Keep
	if keep <= 0 {
		keep = 100
	}
	key := InboxKey(n.ChannelID)
	pipe := s.Client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, keep-1)
	if s.TTL > 0 {
		pipe.Expire(ctx, key, s.TTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// NotifyJob processes TaskChannelNotify tasks.
type NotifyJob struct {
	Senders []Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyJob wires dependencies for the notify handler.
func NewNotifyJob(logger *slog.Logger, metrics *jobmetrics.Metrics, senders ...Sender) *NotifyJob {
	return &NotifyJob{Senders: senders, Logger: logger, Metrics: metrics}
}

// Handle processes one notification. Malformed payloads are not retried.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("notify: handler not configured")
	}
	var n channels.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil || n.ChannelID == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskChannelNotify)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("channel", n.ChannelID), slog.String("activity", n.ActivityID))
	var errs []error
	for _, sender := range j.Senders {
		if err := sender.Send(ctx, n); err != nil {
			logger.Warn("send notification", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	j.Metrics.AddNotifications(len(j.Senders)-len(errs), len(errs))
	return errors.Join(errs...)
}

func (j *NotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
