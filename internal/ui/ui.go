package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	HistoryView ViewState = iota
	WatchView
)

// Tracker starts and stops live status for a job. [tracker.Engine] implements it.
type Tracker interface {
	Track(jobID string, onUpdate func(models.Job), onError func(error)) error
	Untrack(jobID string)
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	view     ViewState
	tracker  Tracker
	jobList  list.Model
	fromList bool
	jobID    string
	job      *models.Job
	updates  int
	err      error
	feed     chan Msg
	done     chan struct{}
	progress progress.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	width    int
	height   int
}

func newModel(ctx context.Context, tracker Tracker) *Model {
	return &Model{
		ctx:      ctx,
		tracker:  tracker,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.warn)),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// NewHistoryModel opens on a list of recent jobs. Enter starts watching the selected one.
func NewHistoryModel(ctx context.Context, tracker Tracker, records []*models.JobRecord) *Model {
	m := newModel(ctx, tracker)
	m.view = HistoryView
	m.fromList = true

	items := make([]list.Item, len(records))
	for i, r := range records {
		items[i] = jobItem{record: r}
	}
	m.jobList = list.New(items, list.NewDefaultDelegate(), 0, 0)
	m.jobList.Title = "Recent jobs"
	return m
}

// NewWatchModel opens directly on the live view of jobID.
func NewWatchModel(ctx context.Context, tracker Tracker, jobID string) *Model {
	m := newModel(ctx, tracker)
	m.view = WatchView
	m.jobID = jobID
	return m
}

// Init starts the spinner and, in watch mode, the tracking session.
func (m *Model) Init() tea.Cmd {
	if m.view == WatchView {
		return tea.Batch(m.spinner.Tick, m.startWatch(m.jobID))
	}
	return nil
}

// Job returns the most recent snapshot, or nil before the first one.
func (m *Model) Job() *models.Job { return m.job }

// Err returns the last tracking error.
func (m *Model) Err() error { return m.err }

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(10, min(msg.Width-4, 60))
		if m.fromList {
			m.jobList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case HistoryView:
			return m.handleHistoryKeys(msg)
		case WatchView:
			return m.handleWatchKeys(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgJobUpdated:
			job := msg.data.(models.Job)
			m.job = &job
			m.updates++
			m.err = nil
		case MsgTrackFailed:
			m.err = msg.data.(error)
		}
		return m, m.waitForFeed()
	}

	if m.view == HistoryView {
		var cmd tea.Cmd
		m.jobList, cmd = m.jobList.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case HistoryView:
		return m.renderHistory()
	case WatchView:
		return m.renderWatch()
	default:
		return ""
	}
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.jobList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.jobList, cmd = m.jobList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.jobList.SelectedItem().(jobItem); ok {
			m.view = WatchView
			m.jobID = item.record.JobID()
			m.job = nil
			m.err = nil
			m.updates = 0
			return m, tea.Batch(m.spinner.Tick, m.startWatch(m.jobID))
		}
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleWatchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.stopWatch()
		return m, tea.Quit
	case key.Matches(msg, m.keys.back) && m.fromList:
		m.stopWatch()
		m.view = HistoryView
		return m, nil
	}
	return m, nil
}

// startWatch registers the job with the tracker. Callbacks block until the
// model takes the message or the watch is stopped.
func (m *Model) startWatch(jobID string) tea.Cmd {
	feed := make(chan Msg, 8)
	done := make(chan struct{})
	m.feed, m.done = feed, done

	send := func(msg Msg) {
		select {
		case feed <- msg:
		case <-done:
		case <-m.ctx.Done():
		}
	}

	err := m.tracker.Track(jobID,
		func(job models.Job) { send(jobUpdatedMsg(job)) },
		func(err error) { send(trackFailedMsg(err)) },
	)
	if err != nil {
		return func() tea.Msg { return trackFailedMsg(err) }
	}
	return m.waitForFeed()
}

func (m *Model) stopWatch() {
	if m.done == nil {
		return
	}
	close(m.done)
	m.tracker.Untrack(m.jobID)
	m.feed, m.done = nil, nil
}

func (m *Model) waitForFeed() tea.Cmd {
	feed, done := m.feed, m.done
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case msg := <-feed:
			return msg
		case <-done:
			return nil
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) renderHistory() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.jobList.View(), helpView)
}

func (m *Model) renderWatch() string {
	title := styles.title.Render(fmt.Sprintf("Job %s", m.jobID))

	helpKeys := []key.Binding{m.keys.quit}
	if m.fromList {
		helpKeys = []key.Binding{m.keys.back, m.keys.quit}
	}
	helpView := m.help.ShortHelpView(helpKeys)

	if m.job == nil {
		body := fmt.Sprintf("%s loading snapshot...", m.spinner.View())
		if m.err != nil {
			body = m.renderError()
		}
		return fmt.Sprintf("%s\n%s\n\n%s", title, body, helpView)
	}

	job := m.job
	status := styles.Badge(job.Status)
	if !job.Status.IsTerminal() {
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	}

	stats := fmt.Sprintf("%d/%d processed • %s succeeded • %s failed • %d remaining",
		job.Stats.Processed, job.Stats.Total,
		styles.ok.Render(fmt.Sprint(job.Stats.Succeeded)),
		styles.err.Render(fmt.Sprint(job.Stats.Failed)),
		job.Stats.Remaining,
	)

	eta := ""
	if job.ETASeconds != nil && !job.Status.IsTerminal() {
		eta = "\nETA " + shared.FormatETA(*job.ETASeconds)
	}

	footer := ""
	switch {
	case m.err != nil:
		footer = "\n\n" + m.renderError()
	case job.Status == models.StatusCompleted:
		footer = "\n\n" + styles.ok.Render("✓ Job complete")
		if job.Links != nil {
			footer += styles.help.Render(fmt.Sprintf("\nresults: %s\nerrors:  %s", job.Links.Results, job.Links.Errors))
		}
	case job.Status.IsTerminal():
		footer = "\n\n" + styles.warn.Render(fmt.Sprintf("Job %s", job.Status))
	}

	return fmt.Sprintf("%s\n%s\n\n%s\n%s%s%s\n\n%s",
		title, status, m.progress.ViewAs(job.Percent()/100), stats, eta, footer, helpView)
}

func (m *Model) renderError() string {
	text := styles.err.Render("Error: " + shared.Describe(m.err))
	if errors.Is(m.err, shared.ErrAuthFailed) {
		text += "\n" + styles.help.Render("run `jobtrack auth login` and watch again")
	}
	return text
}
