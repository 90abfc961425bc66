// Package tui is a terminal viewer over the working set.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"chronos-radar/internal/geometry"
	"chronos-radar/internal/ingest"
	"chronos-radar/internal/query"
	"chronos-radar/internal/store"
)

// Snapshotter is the read side of the query facade.
type Snapshotter interface {
	Snapshot(f query.Filter) []store.TrackedEntity
}

// tickMsg asks the model to pull a fresh snapshot.
type tickMsg time.Time

const (
	minRangeKm      = 1.0
	summaryLines    = 6
	defaultInterval = time.Second
)

var (
	colorOn    = lipgloss.Color("10")
	colorOff   = lipgloss.Color("9")
	colorWarn  = lipgloss.Color("11")
	colorMuted = lipgloss.Color("8")
)

type model struct {
	source   Snapshotter
	status   func() ingest.Status
	now      func() time.Time
	interval time.Duration

	table     table.Model
	entities  []store.TrackedEntity
	st        ingest.Status
	shown     map[geometry.Kind]bool
	rangeKm   float64
	maxRange  float64
	wrap      bool
	help      bool
	width     int
	height    int
	lastFetch time.Time
}

// newModel builds a viewer model. maxRangeKm is the outer zoom limit and the
// starting range.
func newModel(src Snapshotter, status func() ingest.Status, maxRangeKm float64, interval time.Duration) model {
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxRangeKm <= 0 {
		maxRangeKm = 60
	}
	shown := make(map[geometry.Kind]bool, len(geometry.Kinds))
	for _, k := range geometry.Kinds {
		shown[k] = true
	}
	t := table.New(table.WithColumns(columns(80)), table.WithHeight(10))
	return model{
		source:   src,
		status:   status,
		now:      time.Now,
		interval: interval,
		table:    t,
		shown:    shown,
		rangeKm:  maxRangeKm,
		maxRange: maxRangeKm,
	}
}

func columns(width int) []table.Column {
	key := width - 8 - 14 - 9 - 6 - 9 - 7 - 14
	if key < 12 {
		key = 12
	}
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: "Kind", Width: 14},
		{Title: "Key", Width: key},
		{Title: "Dist km", Width: 9},
		{Title: "Brg", Width: 6},
		{Title: "Severity", Width: 9},
		{Title: "Age", Width: 7},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return tickMsg(m.now()) }, m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) filter() query.Filter {
	f := query.Filter{MaxRangeKm: m.rangeKm}
	for _, k := range geometry.Kinds {
		if m.shown[k] {
			f.Kinds = append(f.Kinds, k)
		}
	}
	return f
}

// refresh pulls the current snapshot and status.
func (m *model) refresh() {
	m.lastFetch = m.now()
	if m.status != nil {
		m.st = m.status()
	}
	f := m.filter()
	if len(f.Kinds) == 0 {
		m.entities = nil
	} else {
		m.entities = m.source.Snapshot(f)
	}
	rows := make([]table.Row, 0, len(m.entities))
	for i, e := range m.entities {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1),
			e.Kind.String(),
			e.Key,
			fmt.Sprintf("%.2f", e.Projection.DistanceKm),
			fmt.Sprintf("%03.0f", e.Projection.BearingDeg),
			e.Severity.String(),
			age(m.lastFetch.Sub(e.UpdatedAt)),
		})
	}
	m.table.SetRows(rows)
}

func age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func (m *model) resize() {
	m.table.SetColumns(columns(m.width))
	m.table.SetWidth(m.width)
	h := m.height - summaryLines - 4
	if h < 3 {
		h = 3
	}
	m.table.SetHeight(h)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
	case tickMsg:
		m.refresh()
		return m, m.tick()
	case tea.KeyMsg:
		switch s := msg.String(); s {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "1", "2", "3", "4", "5":
			k := geometry.Kinds[int(s[0]-'1')]
			m.shown[k] = !m.shown[k]
			m.refresh()
			return m, nil
		case "+", "=":
			m.rangeKm = math.Max(minRangeKm, m.rangeKm/2)
			m.refresh()
			return m, nil
		case "-", "_":
			m.rangeKm = math.Min(m.maxRange, m.rangeKm*2)
			m.refresh()
			return m, nil
		case "w":
			m.wrap = !m.wrap
			return m, nil
		case "h", "?":
			m.help = !m.help
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.help {
		return renderHelp()
	}
	divider := lipgloss.NewStyle().Foreground(colorMuted).Render(strings.Repeat("─", max(m.width, 1)))
	return strings.Join([]string{
		m.table.View(),
		divider,
		m.renderSummaries(),
		divider,
		m.renderStatus(),
	}, "\n")
}

// renderSummaries lists the free text of the nearest entities, wrapped or
// cut to the terminal width.
func (m model) renderSummaries() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	var lines []string
	for i, e := range m.entities {
		if len(lines) >= summaryLines {
			break
		}
		if e.Summary == "" {
			continue
		}
		line := fmt.Sprintf("%d %s: %s", i+1, e.Key, e.Summary)
		if m.wrap {
			lines = append(lines, strings.Split(wordwrap.String(line, width), "\n")...)
		} else {
			lines = append(lines, truncate.StringWithTail(line, uint(width), "…"))
		}
	}
	if len(lines) > summaryLines {
		lines = lines[:summaryLines]
	}
	return strings.Join(lines, "\n")
}

func indicator(on bool) string {
	c := colorOff
	if on {
		c = colorOn
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func stateStyle(s ingest.State) lipgloss.Style {
	switch s {
	case ingest.StateStreamingLive:
		return lipgloss.NewStyle().Foreground(colorOn).Bold(true)
	case ingest.StateDegradedPolling, ingest.StateConnecting:
		return lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(colorOff).Bold(true)
}

func (m model) renderStatus() string {
	beat := "never"
	if !m.st.LastHeartbeat.IsZero() {
		beat = age(m.lastFetch.Sub(m.st.LastHeartbeat)) + " ago"
	}
	var kinds []string
	for i, k := range geometry.Kinds {
		kinds = append(kinds, fmt.Sprintf("%d:%s %s", i+1, k, indicator(m.shown[k])))
	}
	line := fmt.Sprintf("%s | entities %d/%d | heartbeat %s | range %.0f km | %s | wrap %s",
		stateStyle(m.st.State).Render(strings.ToUpper(m.st.State.String())),
		m.st.Entities, m.st.Capacity, beat, m.rangeKm,
		strings.Join(kinds, " "), indicator(m.wrap))
	if m.st.Replaying {
		line += " | replaying"
	}
	return line
}

func renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q      quit",
		" 1-5    toggle aircraft, ground vehicles, incidents, risk zones, threats",
		" +/-    zoom range in/out",
		" w      toggle wrap for summaries",
		" ↑/↓    move table selection",
		" h/?    toggle this help view",
	}
	return strings.Join(lines, "\n")
}
