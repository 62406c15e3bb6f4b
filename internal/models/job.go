package models

import "time"

type JobKind string

const (
	JobTranscribe JobKind = "transcribe"
	JobSummarize  JobKind = "summarize"
	JobRefine     JobKind = "refine"
)

const (
	JobStatusOK     = "ok"
	JobStatusFailed = "failed"
)

// Job is the audit record of one adapter call. It never carries transcript or summary text.
type Job struct {
	ID         int64     `json:"id"`
	Kind       JobKind   `json:"kind"`
	Backend    string    `json:"backend"`
	FileName   string    `json:"file_name,omitempty"`
	InputBytes int64     `json:"input_bytes"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
