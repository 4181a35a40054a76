package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueJob identifies one workflow run. It is immutable once enqueued.
type QueueJob struct {
	ExecutionID   string     `json:"executionId"`
	WorkflowID    string     `json:"workflowId"`
	UserID        string     `json:"userId"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
}

func (j *QueueJob) Validate() error {
	if j.ExecutionID == "" {
		return fmt.Errorf("job is missing executionId")
	}
	if j.WorkflowID == "" {
		return fmt.Errorf("job is missing workflowId")
	}
	if j.UserID == "" {
		return fmt.Errorf("job is missing userId")
	}
	return nil
}

func (j *QueueJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

func DecodeQueueJob(b []byte) (*QueueJob, error) {
	j := &QueueJob{}
	if err := json.Unmarshal(b, j); err != nil {
		return nil, fmt.Errorf("cannot decode queue job: %w", err)
	}
	return j, nil
}

// CronDescriptor is transported to the cron exchange as-is. Expanding the
// expression into run times belongs to whoever consumes that exchange.
type CronDescriptor struct {
	WorkflowID string `json:"workflowId"`
	UserID     string `json:"userId"`
	Cron       string `json:"cron"`
	JobType    string `json:"jobType"`
}
