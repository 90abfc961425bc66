package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chronos-radar/internal/ingest"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Run() (tea.Model, error)
	Quit()
}

// Viewer runs the terminal UI until the user quits or ctx ends.
type Viewer struct {
	program teaProgram
}

// NewViewer wires a full-screen program around the model.
func NewViewer(src Snapshotter, status func() ingest.Status, maxRangeKm float64, interval time.Duration) *Viewer {
	m := newModel(src, status, maxRangeKm, interval)
	return &Viewer{program: tea.NewProgram(m, tea.WithAltScreen())}
}

// Run blocks until the program exits.
func (v *Viewer) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			v.program.Quit()
		case <-stop:
		}
	}()
	_, err := v.program.Run()
	return err
}
