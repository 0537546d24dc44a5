package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued turn for one session.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SessionID string `gorm:"size:128;index;not null"` // MaxSessionIDLen

	Prompt string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	Reply *string `gorm:"type:text"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "chat_jobs" }
