package tracker

import (
	"fmt"

	"github.com/desertthunder/jobtrack/internal/models"
)

var (
	ErrRegressed    = fmt.Errorf("update would move progress backwards")
	ErrInconsistent = fmt.Errorf("update has inconsistent counters")
	ErrNoBaseline   = fmt.Errorf("delta arrived before any snapshot")
)

// Update is one inbound change for a job. Exactly one of Snapshot or Delta is set.
type Update struct {
	Snapshot *models.Job
	Delta    *models.Delta
}

// SnapshotUpdate wraps a full snapshot.
func SnapshotUpdate(job models.Job) Update { return Update{Snapshot: &job} }

// DeltaUpdate wraps a partial update.
func DeltaUpdate(d models.Delta) Update { return Update{Delta: &d} }

func (u Update) source() string {
	if u.Delta != nil {
		return "delta"
	}
	return "snapshot"
}

// Reconcile merges u on top of last, the most recently accepted state of the
// job (nil before the first snapshot), and returns the state to publish.
//
// Snapshots replace every field. Deltas overwrite the counters, pass etaSeconds
// through when present and change the status only when they carry one.
// Remaining is derived from total and processed whenever total is known.
//
// The update is rejected when processed would decrease, when the merged
// counters do not add up, or when a finished job would become unfinished.
// last is never modified.
func Reconcile(last *models.Job, u Update) (models.Job, error) {
	var next models.Job

	switch {
	case u.Snapshot != nil:
		next = u.Snapshot.Clone()
	case u.Delta != nil:
		if last == nil {
			return models.Job{}, ErrNoBaseline
		}
		next = last.Clone()
		d := u.Delta
		next.Stats.Processed = d.Processed
		next.Stats.Succeeded = d.Succeeded
		next.Stats.Failed = d.Failed
		next.Stats.Remaining = d.Remaining
		if d.ETASeconds != nil {
			next.ETASeconds = models.IntPtr(*d.ETASeconds)
		}
		if d.Status != "" {
			next.Status = d.Status
		}
	default:
		return models.Job{}, fmt.Errorf("%w: empty update", ErrInconsistent)
	}

	if next.Stats.Total > 0 {
		next.Stats.Remaining = next.Stats.Total - next.Stats.Processed
	}

	if err := next.Stats.Check(); err != nil {
		return models.Job{}, fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	if next.Status != "" && !next.Status.Valid() {
		return models.Job{}, fmt.Errorf("%w: unknown status %q", ErrInconsistent, next.Status)
	}

	if last != nil {
		if next.Stats.Processed < last.Stats.Processed {
			return models.Job{}, fmt.Errorf("%w: processed %d after %d", ErrRegressed, next.Stats.Processed, last.Stats.Processed)
		}
		if last.Status.IsTerminal() && !next.Status.IsTerminal() {
			return models.Job{}, fmt.Errorf("%w: status %s after %s", ErrRegressed, next.Status, last.Status)
		}
	}

	return next, nil
}
