package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/server"
	"github.com/desertthunder/jobtrack/internal/shared"
	tu "github.com/desertthunder/jobtrack/internal/testing"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			store := tu.NewMemoryStore(nil)

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Store:      store,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.store != store {
				t.Error("expected store to be set")
			}
			if runner.api != nil {
				t.Error("expected the client to be built lazily")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config: nil,
			})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Logger: nil,
			})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Output: nil,
			})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				HTTPClient: nil,
			})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}

		for _, want := range []string{"setup", "auth", "jobs", "api", "dev-server"} {
			if !names[want] {
				t.Errorf("expected %q command to be registered", want)
			}
		}
	})

	t.Run("connect rejects invalid config", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.API.BaseURL = "not a url"
		runner := NewRunner(RunnerOpts{Config: config})

		err := runner.connect()
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

// newTestRunner points a Runner at a fast dev backend with a throwaway database.
func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()

	quiet := log.New(io.Discard)
	srv, err := server.New(server.Options{
		Rows:       20,
		Step:       5,
		Tick:       10 * time.Millisecond,
		StartDelay: 5 * time.Millisecond,
		Heartbeat:  50 * time.Millisecond,
		Logger:     quiet,
	})
	if err != nil {
		t.Fatalf("failed to start backend: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(ts.Close)

	config := shared.DefaultConfig()
	config.API.BaseURL = ts.URL + "/v1"
	config.API.RetryDelay = time.Millisecond
	config.API.RequestsPerSecond = 0
	config.Database.Path = filepath.Join(t.TempDir(), "jobtrack.db")
	config.Session.Store = "sqlite"
	config.Tracking.ReconnectDelay = 10 * time.Millisecond
	config.Tracking.PollInterval = 20 * time.Millisecond

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{Config: config, Logger: quiet, Output: output})
	t.Cleanup(runner.Close)
	return runner, output
}

func run(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a config path that does not exist keeps the runner's config
	global := []string{"jobtrack", "--config", filepath.Join(t.TempDir(), "absent.toml")}
	return newApp(r).Run(ctx, append(global, args...))
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{Logger: log.New(io.Discard), Output: output})
	t.Cleanup(runner.Close)

	setup := func(sub string) error {
		return newApp(runner).Run(context.Background(), []string{"jobtrack", "--config", "jobtrack.toml", "setup", sub})
	}

	if err := setup("config"); err != nil {
		t.Fatalf("setup config failed: %v", err)
	}
	tu.AssertFileExists(t, filepath.Join(dir, "jobtrack.toml"))

	if err := setup("config"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected an existing config to be kept, got %v", err)
	}

	if err := setup("database"); err != nil {
		t.Fatalf("setup database failed: %v", err)
	}
	tu.AssertFileExists(t, filepath.Join(dir, "jobtrack.db"))
	if !strings.Contains(output.String(), "Database ready") {
		t.Errorf("unexpected output %q", output.String())
	}
}

func TestCommands(t *testing.T) {
	t.Run("job commands require a session", func(t *testing.T) {
		runner, _ := newTestRunner(t)

		err := run(t, runner, "jobs", "status", "job-1")
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("login and status", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := run(t, runner, "auth", "login", "--email", server.DemoEmail, "--password", server.DemoPassword); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if !strings.Contains(output.String(), "Logged in as") {
			t.Errorf("unexpected login output %q", output.String())
		}

		output.Reset()
		if err := run(t, runner, "auth", "status", "--remote"); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		for _, want := range []string{server.DemoEmail, "credential accepted"} {
			if !strings.Contains(output.String(), want) {
				t.Errorf("expected status to contain %q, got %q", want, output.String())
			}
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		runner, _ := newTestRunner(t)

		err := run(t, runner, "auth", "login", "--email", server.DemoEmail, "--password", "nope-nope")
		if !shared.IsAuthReason(err, shared.ReasonInvalidCredentials) {
			t.Errorf("expected invalid credentials, got %v", err)
		}
	})

	t.Run("submit, watch, download and history", func(t *testing.T) {
		runner, output := newTestRunner(t)
		dir := t.TempDir()

		file := filepath.Join(dir, "rows.csv")
		if err := os.WriteFile(file, []byte("name,email\nada,ada@example.com\n"), 0644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}

		if err := run(t, runner, "auth", "login", "--email", server.DemoEmail, "--password", server.DemoPassword); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		output.Reset()
		if err := run(t, runner, "jobs", "submit", "--watch", file); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		for _, want := range []string{"max 2000 rows", "20/20 (100%)", "Job complete"} {
			if !strings.Contains(output.String(), want) {
				t.Errorf("expected submit output to contain %q, got %q", want, output.String())
			}
		}

		records, err := runner.jobs.List(map[string]any{})
		if err != nil || len(records) != 1 {
			t.Fatalf("expected one history record, got %v (%v)", records, err)
		}
		record := records[0]
		if record.Status() != models.StatusCompleted || record.FileName() != "rows.csv" {
			t.Errorf("unexpected history record %s %s", record.Status(), record.FileName())
		}

		output.Reset()
		if err := run(t, runner, "jobs", "status", "--json", record.JobID()); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var job models.Job
		if err := json.Unmarshal(output.Bytes(), &job); err != nil {
			t.Fatalf("status is not JSON: %v", err)
		}
		if job.Stats.Succeeded != 16 || job.Stats.Failed != 4 {
			t.Errorf("unexpected stats %+v", job.Stats)
		}

		if err := run(t, runner, "jobs", "download", "--kind", "errors", "--dir", dir, record.JobID()); err != nil {
			t.Fatalf("download failed: %v", err)
		}
		report := tu.MustReadFile(t, filepath.Join(dir, record.JobID()+"_errors.csv"))
		if lines := strings.Count(strings.TrimSpace(report), "\n") + 1; lines != 5 {
			t.Errorf("expected header and 4 error rows, got %d lines", lines)
		}

		output.Reset()
		if err := run(t, runner, "jobs", "history"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(output.String(), "rows.csv") {
			t.Errorf("expected history table to list rows.csv, got %q", output.String())
		}

		if err := run(t, runner, "jobs", "cancel", record.JobID()); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if !strings.Contains(output.String(), "already finished") {
			t.Errorf("expected cancel to report a finished job, got %q", output.String())
		}
	})

	t.Run("watch unknown job", func(t *testing.T) {
		runner, _ := newTestRunner(t)

		if err := run(t, runner, "auth", "login", "--email", server.DemoEmail, "--password", server.DemoPassword); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		err := run(t, runner, "jobs", "watch", "missing")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("api get", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := run(t, runner, "auth", "login", "--email", server.DemoEmail, "--password", server.DemoPassword); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		output.Reset()
		err := run(t, runner, "api", "get", "/jobs/missing")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
