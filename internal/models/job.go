package models

import "time"

// Job statuses. Transitions are monotonic:
// queued -> rendering -> completed | failed.
const (
	StatusQueued    = "queued"
	StatusRendering = "rendering"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Job struct {
	ID              string     `json:"job_id"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Error           string     `json:"error,omitempty"`
	SourceKey       string     `json:"-"`
	OutputKey       string     `json:"-"`
	Overlays        []Overlay  `json:"overlays,omitempty"`
	DurationSec     float64    `json:"duration_sec"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	CancelRequested bool       `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
