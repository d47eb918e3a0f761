package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/jobtrack/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgJobUpdated MsgKind = iota
	MsgTrackFailed
)

// jobUpdatedMsg is the constructor for [MsgJobUpdated]
func jobUpdatedMsg(job models.Job) Msg {
	return Msg{kind: MsgJobUpdated, data: job}
}

// trackFailedMsg is the constructor for [MsgTrackFailed]
func trackFailedMsg(err error) Msg {
	return Msg{kind: MsgTrackFailed, data: err}
}
