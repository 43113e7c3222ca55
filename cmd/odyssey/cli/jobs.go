package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-feed/odyssey-feed/internal/channels"
	"github.com/odyssey-feed/odyssey-feed/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// NotifyTest enqueues a notification for channelID, bypassing the feed.
func (c *JobsCLI) NotifyTest(ctx context.Context, channelID, body string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewNotifyTask(channels.Notification{
		ChannelID: channelID,
		ActorID:   "ops",
		Title:     "test notification",
		Body:      body,
	})
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
