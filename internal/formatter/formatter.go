// package formatter renders job history and progress for the terminal and exports them to files (CSV, Markdown)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
)

var historyHeaders = []string{"Job ID", "File", "Status", "Total", "Processed", "Succeeded", "Failed", "Submitted", "Finished"}

func historyRow(r *models.JobRecord) []string {
	stats := r.Stats()
	finished := ""
	if f := r.FinishedAt(); f != nil {
		finished = f.UTC().Format(time.RFC3339)
	}
	return []string{
		r.JobID(),
		r.FileName(),
		string(r.Status()),
		strconv.Itoa(stats.Total),
		strconv.Itoa(stats.Processed),
		strconv.Itoa(stats.Succeeded),
		strconv.Itoa(stats.Failed),
		r.SubmittedAt().UTC().Format(time.RFC3339),
		finished,
	}
}

// HistoryToCSV converts history records to CSV with one header row
func HistoryToCSV(records []*models.JobRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(historyHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range records {
		if err := writer.Write(historyRow(r)); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// HistoryToMarkdown renders history records as a Markdown table
func HistoryToMarkdown(records []*models.JobRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Job history\n\n")
	buf.WriteString(fmt.Sprintf("**Jobs**: %d\n\n", len(records)))

	buf.WriteString("|")
	for _, h := range historyHeaders {
		buf.WriteString(" " + h + " |")
	}
	buf.WriteString("\n|")
	for range historyHeaders {
		buf.WriteString(" --- |")
	}
	buf.WriteString("\n")

	for _, r := range records {
		buf.WriteString("|")
		for _, cell := range historyRow(r) {
			buf.WriteString(" " + cell + " |")
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// HistoryTable renders history records as a bordered terminal table.
func HistoryTable(records []*models.JobRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))).
		Headers("JOB ID", "FILE", "STATUS", "PROGRESS", "FAILED", "SUBMITTED")

	for _, r := range records {
		stats := r.Stats()
		t.Row(
			r.JobID(),
			r.FileName(),
			string(r.Status()),
			fmt.Sprintf("%d/%d", stats.Processed, stats.Total),
			strconv.Itoa(stats.Failed),
			r.SubmittedAt().Local().Format(time.DateTime),
		)
	}
	return t.Render()
}

// JobLine summarizes a snapshot on one line, for plain progress output.
func JobLine(job models.Job) string {
	line := fmt.Sprintf("[%s] %s %d/%d (%.0f%%) succeeded=%d failed=%d remaining=%d",
		job.JobID, job.Status,
		job.Stats.Processed, job.Stats.Total, job.Percent(),
		job.Stats.Succeeded, job.Stats.Failed, job.Stats.Remaining,
	)
	if job.ETASeconds != nil && !job.Status.IsTerminal() {
		line += " eta=" + shared.FormatETA(*job.ETASeconds)
	}
	return line
}

// WriteHistoryExport writes history records to path in the given format (csv or md).
//
// Defaults to jobtrack_history.{format} as the filename.
func WriteHistoryExport(records []*models.JobRecord, path, format string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case "", "csv":
		format = "csv"
		data, err = HistoryToCSV(records)
	case "md", "markdown":
		format = "md"
		data, err = HistoryToMarkdown(records)
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if path == "" {
		path = fmt.Sprintf("jobtrack_history.%s", format)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}

// WriteReport saves a downloaded report blob.
//
// Defaults to {jobID}_{kind}.csv in dir as the filename.
func WriteReport(jobID string, kind services.ReportKind, data []byte, dir, path string) (string, error) {
	if path == "" {
		path = filepath.Join(dir, fmt.Sprintf("%s_%s.csv", jobID, kind))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}
