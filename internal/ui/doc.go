// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI has two views:
//  1. [HistoryView] : Browse recently submitted and tracked jobs
//  2. [WatchView] : Follow one job live with a progress bar, row counters, ETA and a status badge
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Tracker callbacks feed a channel that the model drains one message at a time, so the tracker is never blocked by rendering
// for longer than one frame.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
