package models

import (
	"errors"
	"fmt"
	"time"
)

// JobRecord is the local history entry for a job this client submitted or tracked.
type JobRecord struct {
	id          string
	sequence    int
	jobID       string
	fileName    string
	status      JobStatus
	stats       Stats
	submittedAt time.Time
	finishedAt  *time.Time
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

// NewJobRecord creates a history entry for jobID in the given status.
func NewJobRecord(jobID, fileName string, status JobStatus, submittedAt time.Time) *JobRecord {
	now := time.Now()
	if submittedAt.IsZero() {
		submittedAt = now
	}
	return &JobRecord{
		jobID:       jobID,
		fileName:    fileName,
		status:      status,
		submittedAt: submittedAt,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (r *JobRecord) ID() string             { return r.id }
func (r *JobRecord) Sequence() int          { return r.sequence }
func (r *JobRecord) JobID() string          { return r.jobID }
func (r *JobRecord) FileName() string       { return r.fileName }
func (r *JobRecord) Status() JobStatus      { return r.status }
func (r *JobRecord) Stats() Stats           { return r.stats }
func (r *JobRecord) SubmittedAt() time.Time { return r.submittedAt }
func (r *JobRecord) FinishedAt() *time.Time { return r.finishedAt }
func (r *JobRecord) CreatedAt() time.Time   { return r.createdAt }
func (r *JobRecord) UpdatedAt() time.Time   { return r.updatedAt }
func (r *JobRecord) DeletedAt() *time.Time  { return r.deletedAt }

func (r *JobRecord) SetID(id string)            { r.id = id }
func (r *JobRecord) SetSequence(seq int)        { r.sequence = seq }
func (r *JobRecord) SetFileName(name string)    { r.fileName = name }
func (r *JobRecord) SetCreatedAt(t time.Time)   { r.createdAt = t }
func (r *JobRecord) SetUpdatedAt(t time.Time)   { r.updatedAt = t }
func (r *JobRecord) SetDeletedAt(t *time.Time)  { r.deletedAt = t }
func (r *JobRecord) SetFinishedAt(t *time.Time) { r.finishedAt = t }
func (r *JobRecord) SetStatus(status JobStatus) { r.status = status }
func (r *JobRecord) SetStats(stats Stats)       { r.stats = stats }
func (r *JobRecord) SetSubmittedAt(t time.Time) { r.submittedAt = t }

// Apply copies the status, counters and finish time of a snapshot onto the record.
func (r *JobRecord) Apply(job Job) {
	r.status = job.Status
	r.stats = job.Stats
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		r.finishedAt = &t
	} else if job.Status.IsTerminal() && r.finishedAt == nil {
		now := time.Now()
		r.finishedAt = &now
	}
}

// Validate checks that the record can be stored.
func (r *JobRecord) Validate() error {
	if r.jobID == "" {
		return errors.New("job id is required")
	}
	if !r.status.Valid() {
		return fmt.Errorf("invalid status %q", r.status)
	}
	if err := r.stats.Check(); err != nil {
		return fmt.Errorf("invalid stats: %w", err)
	}
	return nil
}
