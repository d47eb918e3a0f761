package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/jobtrack/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Painter defines coloring text with [lipgloss] styles
type Painter interface {
	On(string, lipgloss.Color) string // Sets background color
	As(string, lipgloss.Color) string // Sets foreground color
}

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	badge lipgloss.Style
}

var _ Painter = (*Palette)(nil)

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		badge: lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#FFFFFF")),
	}
}

func (p *Palette) On(s string, c lipgloss.Color) string { return p.badge.Background(c).Render(s) }
func (p *Palette) As(s string, c lipgloss.Color) string { return lipgloss.NewStyle().Foreground(c).Render(s) }

// Badge renders status on a background that reflects how the job is doing.
func (p *Palette) Badge(status models.JobStatus) string {
	var c lipgloss.Color
	switch status {
	case models.StatusCompleted:
		c = lipgloss.Color("#04B575")
	case models.StatusFailed:
		c = lipgloss.Color("#FF0000")
	case models.StatusCanceled:
		c = lipgloss.Color("#FFA500")
	case models.StatusProcessing:
		c = lipgloss.Color("#7D56F4")
	default:
		c = lipgloss.Color("#626262")
	}
	return p.On(string(status), c)
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
