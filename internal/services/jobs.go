package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// DefaultDateFormat is sent when a submission names no date format.
const DefaultDateFormat = "YYYY-MM-DD"

// SubmitOptions describes a job submission.
type SubmitOptions struct {
	FileName       string
	Content        []byte
	FileType       string // csv or xlsx; inferred from FileName when empty
	Delimiter      string
	DateFormat     string
	WebhookURL     string
	IdempotencyKey string // generated when empty
}

// LoadSubmitFile reads path into a SubmitOptions.
func LoadSubmitFile(path string) (SubmitOptions, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return SubmitOptions{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return SubmitOptions{FileName: filepath.Base(path), Content: content}, nil
}

// InferFileType maps a file extension to the service's fileType field.
func InferFileType(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv", nil
	case ".xlsx", ".xls":
		return "xlsx", nil
	default:
		return "", fmt.Errorf("%w: cannot infer file type of %q, use CSV or XLSX", shared.ErrInvalidInput, name)
	}
}

func (o SubmitOptions) multipart() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", o.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(o.Content); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"fileType", o.FileType},
		{"delimiter", o.Delimiter},
		{"dateFormat", o.DateFormat},
		{"webhookUrl", o.WebhookURL},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// SubmitJob uploads a file as a new job. The Idempotency-Key is chosen once
// and reused by the retry and the reauthorized replay.
func (c *Client) SubmitJob(ctx context.Context, opts SubmitOptions) (*models.SubmitResponse, error) {
	if opts.FileName == "" || len(opts.Content) == 0 {
		return nil, fmt.Errorf("%w: a non-empty file is required", shared.ErrMissingArgument)
	}
	if opts.FileType == "" {
		ft, err := InferFileType(opts.FileName)
		if err != nil {
			return nil, err
		}
		opts.FileType = ft
	}
	if opts.DateFormat == "" {
		opts.DateFormat = DefaultDateFormat
	}

	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = shared.GenerateID()
	}
	headers := http.Header{}
	headers.Set("Idempotency-Key", opts.IdempotencyKey)

	resp, err := c.call(ctx, request{
		method:  http.MethodPost,
		path:    "/jobs",
		body:    opts.multipart,
		headers: headers,
	})
	if err != nil {
		return nil, err
	}

	var out models.SubmitResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches the full snapshot of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	resp, err := c.call(ctx, request{method: http.MethodGet, path: jobPath(jobID)})
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := decode(resp, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

// CancelJob asks the server to stop a job. A job that already finished yields [shared.ErrJobFinished].
func (c *Client) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	resp, err := c.call(ctx, request{method: http.MethodPost, path: jobPath(jobID) + "/cancel"})
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := decode(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ReportKind names a downloadable report.
type ReportKind string

const (
	ReportResults ReportKind = "results"
	ReportErrors  ReportKind = "errors"
)

// Download fetches a report blob. Reports only exist once the job is terminal;
// earlier calls return [shared.ErrJobNotTerminal] without downloading.
func (c *Client) Download(ctx context.Context, jobID string, kind ReportKind) ([]byte, error) {
	if kind != ReportResults && kind != ReportErrors {
		return nil, fmt.Errorf("%w: report %q", shared.ErrInvalidArgument, kind)
	}

	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", shared.ErrJobNotTerminal, jobID, job.Status)
	}

	resp, err := c.call(ctx, request{method: http.MethodGet, path: jobPath(jobID) + "/" + string(kind)})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func jobPath(jobID string) string {
	return "/jobs/" + url.PathEscape(jobID)
}
