package repositories

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// JobHistoryAdapter implements tracker.Recorder using JobRepository.
//
// Jobs tracked without a prior submit from this machine get a history entry on first sight.
type JobHistoryAdapter struct {
	repo *JobRepository
}

// NewJobHistoryAdapter creates a new JobHistoryAdapter with the given repository
func NewJobHistoryAdapter(repo *JobRepository) *JobHistoryAdapter {
	return &JobHistoryAdapter{repo: repo}
}

// RecordSubmitted stores a freshly submitted job.
// A duplicate job id is ignored.
func (a *JobHistoryAdapter) RecordSubmitted(fileName string, resp models.SubmitResponse) error {
	record := models.NewJobRecord(resp.JobID, fileName, resp.Status, resp.ReceivedAt)
	if err := a.repo.Create(record); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil
		}
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// RecordSnapshot updates the history entry for job, creating it when missing.
func (a *JobHistoryAdapter) RecordSnapshot(job models.Job) error {
	record, err := a.repo.GetByJobID(job.JobID)
	if errors.Is(err, shared.ErrNotFound) {
		record = models.NewJobRecord(job.JobID, "", job.Status, derefTime(job.StartedAt))
		record.Apply(job)
		if err := a.repo.Create(record); err != nil {
			return fmt.Errorf("failed to record job: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	record.Apply(job)
	if err := a.repo.Update(record); err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
