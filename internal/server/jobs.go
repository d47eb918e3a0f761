package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
)

var errJobNotFound = errors.New("job not found")

// jobEntry is one simulated job. Its fields are guarded by jobStore.mu.
type jobEntry struct {
	job      models.Job
	owner    string
	fileName string
	cancel   context.CancelFunc
	subs     map[int]chan models.Delta
}

// jobStore keeps jobs in memory and fans progress out to stream subscribers.
type jobStore struct {
	mu          sync.RWMutex
	jobs        map[string]*jobEntry
	idempotency map[string]models.SubmitResponse
	nextSub     int
}

func newJobStore() *jobStore {
	return &jobStore{
		jobs:        make(map[string]*jobEntry),
		idempotency: make(map[string]models.SubmitResponse),
	}
}

// add registers a job unless the owner already used key, in which case the earlier answer is returned.
func (s *jobStore) add(key string, e *jobEntry, resp models.SubmitResponse) (models.SubmitResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := e.owner + "/" + key
	if prior, ok := s.idempotency[k]; ok {
		return prior, false
	}
	s.idempotency[k] = resp
	s.jobs[e.job.JobID] = e
	return resp, true
}

func (s *jobStore) get(id, owner string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok || e.owner != owner {
		return models.Job{}, errJobNotFound
	}
	return e.job.Clone(), nil
}

// subscribe returns the job's current state and a channel of later deltas.
// The channel is closed once the job is terminal.
func (s *jobStore) subscribe(id, owner string) (models.Job, <-chan models.Delta, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.owner != owner {
		return models.Job{}, nil, nil, errJobNotFound
	}

	ch := make(chan models.Delta, 64)
	if e.job.Status.IsTerminal() {
		close(ch)
		return e.job.Clone(), ch, func() {}, nil
	}

	s.nextSub++
	sub := s.nextSub
	e.subs[sub] = ch
	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := e.subs[sub]; ok {
			delete(e.subs, sub)
			close(c)
		}
	}
	return e.job.Clone(), ch, unsubscribe, nil
}

// update applies fn to the job and broadcasts the result as a delta.
func (s *jobStore) update(id string, fn func(j *models.Job)) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		return models.Job{}, false
	}
	fn(&e.job)

	d := deltaOf(e.job)
	for sub, ch := range e.subs {
		select {
		case ch <- d:
		default:
		}
		if e.job.Status.IsTerminal() {
			delete(e.subs, sub)
			close(ch)
		}
	}
	return e.job.Clone(), true
}

func (s *jobStore) cancelFunc(id, owner string) (context.CancelFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok || e.owner != owner {
		return nil, errJobNotFound
	}
	return e.cancel, nil
}

func deltaOf(j models.Job) models.Delta {
	d := models.Delta{
		Processed: j.Stats.Processed,
		Succeeded: j.Stats.Succeeded,
		Failed:    j.Stats.Failed,
		Remaining: j.Stats.Remaining,
		Status:    j.Status,
	}
	if j.ETASeconds != nil {
		d.ETASeconds = models.IntPtr(*j.ETASeconds)
	}
	return d
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "expected multipart/form-data")
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "a file field is required")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	fileType := r.FormValue("fileType")
	if fileType == "" {
		fileType, _ = services.InferFileType(header.Filename)
	}
	if fileType != "csv" && fileType != "xlsx" {
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "fileType must be csv or xlsx")
		return
	}

	owner := caller(r).user.ID
	now := s.now()
	total := s.opts.Rows
	eta := s.etaFor(total)
	ctx, cancel := context.WithCancel(s.ctx)

	entry := &jobEntry{
		job: models.Job{
			JobID:      shared.GenerateID(),
			Status:     models.StatusQueued,
			Stats:      models.Stats{Total: total, Remaining: total},
			ETASeconds: &eta,
			UpdatedAt:  &now,
		},
		owner:    owner,
		fileName: header.Filename,
		cancel:   cancel,
		subs:     make(map[int]chan models.Delta),
	}
	resp := models.SubmitResponse{
		JobID:      entry.job.JobID,
		Status:     models.StatusQueued,
		ReceivedAt: now.UTC(),
		Limits:     models.Limits{MaxRows: s.opts.MaxRows},
	}

	resp, created := s.jobs.add(key, entry, resp)
	if !created {
		cancel()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	s.logger.Info("job submitted", "job", resp.JobID, "file", header.Filename, "type", fileType)
	s.wg.Add(1)
	go s.simulate(ctx, resp.JobID)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(r.PathValue("id"), caller(r).user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancel, err := s.jobs.cancelFunc(id, caller(r).user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	job, ok := s.jobs.update(id, func(j *models.Job) { s.finish(j, models.StatusCanceled) })
	if !ok {
		writeError(w, http.StatusConflict, "JOB_FINISHED", "job already finished")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, job)
}

// download serves the results or errors report of a finished job.
func (s *Server) download(kind services.ReportKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobs.get(r.PathValue("id"), caller(r).user.ID)
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		if !job.Status.IsTerminal() {
			writeError(w, http.StatusConflict, "JOB_NOT_FINISHED", fmt.Sprintf("job is %s", job.Status))
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s.csv", job.JobID, kind)))
		w.WriteHeader(http.StatusOK)

		if kind == services.ReportResults {
			fmt.Fprintln(w, "row,status")
			for i := 1; i <= job.Stats.Succeeded; i++ {
				fmt.Fprintf(w, "%d,success\n", i)
			}
			return
		}
		fmt.Fprintln(w, "row,error")
		for i := 1; i <= job.Stats.Failed; i++ {
			fmt.Fprintf(w, "%d,%s\n", job.Stats.Succeeded+i, "simulated row failure")
		}
	}
}

// simulate moves a job from queued through processing to completed.
func (s *Server) simulate(ctx context.Context, id string) {
	defer s.wg.Done()

	start := time.NewTimer(s.opts.StartDelay)
	defer start.Stop()
	select {
	case <-ctx.Done():
		return
	case <-start.C:
	}

	s.jobs.update(id, func(j *models.Job) {
		now := s.now()
		j.Status = models.StatusProcessing
		j.StartedAt = &now
		j.UpdatedAt = &now
	})

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := s.jobs.update(id, s.advance)
			if !ok || job.Status.IsTerminal() {
				return
			}
		}
	}
}

// advance processes one step of rows, nine in ten of them successfully.
func (s *Server) advance(j *models.Job) {
	step := min(s.opts.Step, j.Stats.Total-j.Stats.Processed)
	succeeded := int(math.Floor(float64(step) * 0.9))

	j.Stats.Processed += step
	j.Stats.Succeeded += succeeded
	j.Stats.Failed += step - succeeded
	j.Stats.Remaining = j.Stats.Total - j.Stats.Processed

	now := s.now()
	j.UpdatedAt = &now
	eta := s.etaFor(j.Stats.Remaining)
	j.ETASeconds = &eta

	if j.Stats.Remaining == 0 {
		s.finish(j, models.StatusCompleted)
	}
}

func (s *Server) finish(j *models.Job, status models.JobStatus) {
	now := s.now()
	j.Status = status
	j.FinishedAt = &now
	j.UpdatedAt = &now
	j.ETASeconds = models.IntPtr(0)
	j.Links = &models.Links{
		Results: fmt.Sprintf("/v1/jobs/%s/results", j.JobID),
		Errors:  fmt.Sprintf("/v1/jobs/%s/errors", j.JobID),
	}
}

// etaFor estimates the seconds needed for rows at the configured pace.
func (s *Server) etaFor(rows int) int {
	if rows <= 0 || s.opts.Step <= 0 {
		return 0
	}
	ticks := math.Ceil(float64(rows) / float64(s.opts.Step))
	return int(math.Ceil(ticks * s.opts.Tick.Seconds()))
}
