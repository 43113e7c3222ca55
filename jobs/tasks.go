package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-feed/odyssey-feed/internal/channels"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskChannelNotify is the task type for new activity notifications.
	TaskChannelNotify = "channel:notify"
)

// NewNotifyTask constructs an Asynq task carrying one notification.
func NewNotifyTask(n channels.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChannelNotify, data, asynq.MaxRetry(3)), nil
}
