package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a remote job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

// IsTerminal reports whether no further progress can happen.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Stats holds a job's row counters.
type Stats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Check verifies the counter invariants: no negatives, processed = succeeded + failed,
// and processed within total when total is known.
func (s Stats) Check() error {
	if s.Total < 0 || s.Processed < 0 || s.Succeeded < 0 || s.Failed < 0 || s.Remaining < 0 {
		return fmt.Errorf("negative counter in %+v", s)
	}
	if s.Total > 0 {
		if s.Succeeded+s.Failed != s.Processed {
			return fmt.Errorf("succeeded (%d) + failed (%d) != processed (%d)", s.Succeeded, s.Failed, s.Processed)
		}
		if s.Processed > s.Total {
			return fmt.Errorf("processed (%d) exceeds total (%d)", s.Processed, s.Total)
		}
	}
	return nil
}

// Links points at downloadable reports of a finished job.
type Links struct {
	Results string `json:"resultsCsv,omitempty"`
	Errors  string `json:"errorsCsv,omitempty"`
}

// Job is a full snapshot of a remote batch job.
type Job struct {
	JobID      string     `json:"jobId"`
	Status     JobStatus  `json:"status"`
	Stats      Stats      `json:"stats"`
	ETASeconds *int       `json:"etaSeconds,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	Links      *Links     `json:"links,omitempty"`
}

// Clone returns a deep copy so cached and emitted snapshots never share pointers.
func (j Job) Clone() Job {
	out := j
	if j.ETASeconds != nil {
		eta := *j.ETASeconds
		out.ETASeconds = &eta
	}
	out.StartedAt = cloneTime(j.StartedAt)
	out.FinishedAt = cloneTime(j.FinishedAt)
	out.UpdatedAt = cloneTime(j.UpdatedAt)
	if j.Links != nil {
		links := *j.Links
		out.Links = &links
	}
	return out
}

// Percent returns processed/total in [0, 100], or 0 while total is unknown.
func (j Job) Percent() float64 {
	if j.Stats.Total <= 0 {
		return 0
	}
	return float64(j.Stats.Processed) / float64(j.Stats.Total) * 100
}

// Delta is a partial update from the push channel. Status is empty when the
// message does not carry one.
type Delta struct {
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	ETASeconds *int      `json:"etaSeconds,omitempty"`
	Status     JobStatus `json:"status,omitempty"`
}

// Limits are the server-side constraints echoed on submission.
type Limits struct {
	MaxRows int `json:"maxRows"`
}

// SubmitResponse acknowledges a newly submitted job.
type SubmitResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	ReceivedAt time.Time `json:"receivedAt"`
	Limits     Limits    `json:"limits"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
