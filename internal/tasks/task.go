package tasks

import (
	"encoding/json"
	"time"
)

// Kind discriminates what a worker does with a task's payload.
type Kind string

const (
	KindSingleInsert Kind = "single_insert"
	KindBatchInsert  Kind = "batch_insert"
)

// Status is monotone: pending -> processing -> completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Item is the raw multimodal payload a task carries. At least one
// field must be set; validation happens before a task is created.
type Item struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

func (i Item) Empty() bool {
	return i.Text == "" && i.ImageURL == "" && i.VideoURL == ""
}

// Task is the durable record of one unit of background work. The JSON
// field names are the wire shape stored in Redis and returned over
// HTTP, so they must stay stable.
type Task struct {
	ID          string          `json:"task_id"`
	Kind        Kind            `json:"task_type"`
	Status      Status          `json:"status"`
	Progress    float64         `json:"progress"`
	Message     string          `json:"message"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Result      json.RawMessage `json:"result"`
	Payload     []Item          `json:"payload"`
}

// Update carries the fields a transition wants to merge into a task.
// Nil fields are left untouched.
type Update struct {
	Status   *Status
	Progress *float64
	Message  *string
	Result   any
}

// Statistics is the per-status census of the task index.
type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
