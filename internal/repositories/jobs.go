package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

const jobColumns = `id, sequence, job_id, file_name, status, total, processed, succeeded, failed, submitted_at, finished_at, created_at, updated_at, deleted_at`

// JobRepository implements models.Repository[*models.JobRecord] for the local job history.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new record with generated ID and sequence
func (r *JobRepository) Create(record *models.JobRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	record.SetID(id)
	record.SetSequence(sequence)

	stats := record.Stats()
	_, err = r.db.Exec(`
		INSERT INTO jobs (id, sequence, job_id, file_name, status, total, processed, succeeded, failed, submitted_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		sequence,
		record.JobID(),
		record.FileName(),
		string(record.Status()),
		stats.Total,
		stats.Processed,
		stats.Succeeded,
		stats.Failed,
		record.SubmittedAt(),
		nullTime(record.FinishedAt()),
		record.CreatedAt(),
		record.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a record by ID, excluding soft-deleted records
func (r *JobRepository) Get(id string) (*models.JobRecord, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND deleted_at IS NULL`, id)
	return scanJob(row)
}

// GetByJobID retrieves a record by the remote job identifier
func (r *JobRepository) GetByJobID(jobID string) (*models.JobRecord, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ? AND deleted_at IS NULL`, jobID)
	return scanJob(row)
}

// Update writes the status, counters and finish time of an existing record
func (r *JobRepository) Update(record *models.JobRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	record.SetUpdatedAt(now)

	stats := record.Stats()
	result, err := r.db.Exec(`
		UPDATE jobs
		SET file_name = ?, status = ?, total = ?, processed = ?, succeeded = ?, failed = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`,
		record.FileName(),
		string(record.Status()),
		stats.Total,
		stats.Processed,
		stats.Succeeded,
		stats.Failed,
		nullTime(record.FinishedAt()),
		now,
		record.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return expectRow(result, "job", record.ID())
}

// Delete soft-deletes a record by ID
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectRow(result, "job", id)
}

// List retrieves records matching the given criteria, newest first.
//
// Supported criteria: "status" (string or [models.JobStatus]) and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	args := []any{}

	switch status := criteria["status"].(type) {
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	case models.JobStatus:
		if status != "" {
			query += " AND status = ?"
			args = append(args, string(status))
		}
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var records []*models.JobRecord
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single row from [sql.Row] or [sql.Rows] into a [models.JobRecord]
func scanJob(s scanner) (*models.JobRecord, error) {
	var (
		id          string
		sequence    int
		jobID       string
		fileName    string
		status      string
		stats       models.Stats
		submittedAt time.Time
		finishedAt  sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := s.Scan(&id, &sequence, &jobID, &fileName, &status,
		&stats.Total, &stats.Processed, &stats.Succeeded, &stats.Failed,
		&submittedAt, &finishedAt, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if stats.Total > 0 {
		stats.Remaining = stats.Total - stats.Processed
	}

	record := models.NewJobRecord(jobID, fileName, models.JobStatus(status), submittedAt)
	record.SetID(id)
	record.SetSequence(sequence)
	record.SetStats(stats)
	record.SetCreatedAt(createdAt)
	record.SetUpdatedAt(updatedAt)
	if finishedAt.Valid {
		record.SetFinishedAt(&finishedAt.Time)
	}
	if deletedAt.Valid {
		record.SetDeletedAt(&deletedAt.Time)
	}

	return record, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func expectRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, entity, id)
	}
	return nil
}
