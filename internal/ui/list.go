package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/jobtrack/internal/models"
)

var (
	_ list.Item = jobItem{}
)

// jobItem wraps [models.JobRecord] to implement [list.Item].
type jobItem struct {
	record *models.JobRecord
}

func (i jobItem) FilterValue() string { return i.record.JobID() + " " + i.record.FileName() }

func (i jobItem) Title() string {
	if name := i.record.FileName(); name != "" {
		return fmt.Sprintf("%s • %s", name, i.record.JobID())
	}
	return i.record.JobID()
}

func (i jobItem) Description() string {
	stats := i.record.Stats()
	desc := fmt.Sprintf("%s • %d/%d rows", i.record.Status(), stats.Processed, stats.Total)
	if stats.Failed > 0 {
		desc = fmt.Sprintf("%s • %d failed", desc, stats.Failed)
	}
	return fmt.Sprintf("%s • %s", desc, i.record.SubmittedAt().Local().Format(time.DateTime))
}
