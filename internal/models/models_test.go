package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
		valid    bool
	}{
		{StatusQueued, false, true},
		{StatusProcessing, false, true},
		{StatusCompleted, true, true},
		{StatusFailed, true, true},
		{StatusCanceled, true, true},
		{JobStatus("paused"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestStatsCheck(t *testing.T) {
	tests := []struct {
		name    string
		stats   Stats
		wantErr bool
	}{
		{"consistent", Stats{Total: 10, Processed: 4, Succeeded: 3, Failed: 1, Remaining: 6}, false},
		{"unknown total", Stats{Processed: 0}, false},
		{"sum mismatch", Stats{Total: 10, Processed: 4, Succeeded: 1, Failed: 1, Remaining: 6}, true},
		{"over total", Stats{Total: 3, Processed: 4, Succeeded: 4, Remaining: 0}, true},
		{"negative", Stats{Total: 3, Failed: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stats.Check()
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobClone(t *testing.T) {
	now := time.Now()
	job := Job{JobID: "j1", ETASeconds: IntPtr(10), UpdatedAt: &now, Links: &Links{Results: "/r"}}

	clone := job.Clone()
	*clone.ETASeconds = 99
	clone.Links.Results = "/changed"

	if *job.ETASeconds != 10 {
		t.Errorf("clone shares eta pointer")
	}
	if job.Links.Results != "/r" {
		t.Errorf("clone shares links pointer")
	}
}

func TestJobDecode(t *testing.T) {
	data := `{"jobId":"abc","status":"processing","stats":{"total":100,"processed":40,"succeeded":38,"failed":2,"remaining":60},"etaSeconds":12}`

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.JobID != "abc" || job.Status != StatusProcessing {
		t.Errorf("unexpected job %+v", job)
	}
	if job.ETASeconds == nil || *job.ETASeconds != 12 {
		t.Errorf("expected eta 12, got %v", job.ETASeconds)
	}
	if got := job.Percent(); got != 40 {
		t.Errorf("Percent() = %v, want 40", got)
	}
}

func TestSessionIsAuthenticated(t *testing.T) {
	var nilSession *Session
	if nilSession.IsAuthenticated() {
		t.Error("nil session should not be authenticated")
	}
	if (&Session{Credential: "tok"}).IsAuthenticated() {
		t.Error("session without identity should not be authenticated")
	}
	if !(&Session{Credential: "tok", Identity: &Identity{ID: "u1"}}).IsAuthenticated() {
		t.Error("session with credential and identity should be authenticated")
	}
}

func TestJobRecord(t *testing.T) {
	record := NewJobRecord("job-1", "rows.csv", StatusQueued, time.Time{})
	if record.SubmittedAt().IsZero() {
		t.Error("submitted_at should default to now")
	}
	if err := record.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	record.Apply(Job{Status: StatusCompleted, Stats: Stats{Total: 2, Processed: 2, Succeeded: 2}})
	if record.Status() != StatusCompleted {
		t.Errorf("expected completed, got %s", record.Status())
	}
	if record.FinishedAt() == nil {
		t.Error("terminal apply should set finished_at")
	}

	if err := NewJobRecord("", "", StatusQueued, time.Now()).Validate(); err == nil {
		t.Error("expected error for empty job id")
	}
}
