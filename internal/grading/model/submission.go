package model

import "time"

// Status is the submission lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Submission is one learner attempt against a challenge version.
// Rows are append-only; only the grading pipeline mutates status.
type Submission struct {
	ID          string    `json:"id"`
	LearnerID   string    `json:"learner_id"`
	ChallengeID string    `json:"challenge_id"`
	Version     int64     `json:"version"`
	Environment string    `json:"environment"`
	Code        string    `json:"code"`
	Fingerprint string    `json:"fingerprint"`
	Status      Status    `json:"status"`
	// FromCache marks that the terminal result was served from the
	// result cache instead of fresh sandbox executions.
	FromCache bool      `json:"from_cache"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
