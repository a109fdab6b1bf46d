package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-jr-swarm/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatsMsg carries updated statistics.
type StatsMsg struct {
	Stats *stats.AggregatedStats
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	targetUsers int
	duration    time.Duration
	command     string
	metricsAddr string

	// Current state
	stats        *stats.AggregatedStats
	activeUsers  int
	startedUsers int
	startTime    time.Time
	lastUpdate   time.Time
	failureView  bool

	// Display options
	width  int
	height int

	statsSource StatsSource
	userSource  UserSource

	quitting bool
}

// StatsSource provides aggregated statistics.
type StatsSource interface {
	GetAggregatedStats() *stats.AggregatedStats
}

// UserSource reports how many users are running.
type UserSource interface {
	ActiveCount() int
	StartedCount() int
}

// Config holds TUI configuration.
type Config struct {
	TargetUsers int
	Duration    time.Duration // 0 = until interrupted
	Command     string        // shown in the footer
	MetricsAddr string
	StatsSource StatsSource
	UserSource  UserSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		targetUsers: cfg.TargetUsers,
		duration:    cfg.Duration,
		command:     cfg.Command,
		metricsAddr: cfg.MetricsAddr,
		statsSource: cfg.StatsSource,
		userSource:  cfg.UserSource,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "f":
			m.failureView = !m.failureView
			return m, nil
		case "r":
			m = m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh()
		return m, tickCmd()

	case StatsMsg:
		m.stats = msg.Stats
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest numbers from the sources.
func (m Model) refresh() Model {
	if m.statsSource != nil {
		m.stats = m.statsSource.GetAggregatedStats()
	}
	if m.userSource != nil {
		m.activeUsers = m.userSource.ActiveCount()
		m.startedUsers = m.userSource.StartedCount()
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.failureView {
		return m.renderFailureView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the test started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Remaining returns the time left in a bounded run, or -1.
func (m Model) Remaining() time.Duration {
	if m.duration <= 0 {
		return -1
	}
	left := m.duration - m.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// ActiveUsers returns the current active user count.
func (m Model) ActiveUsers() int {
	return m.activeUsers
}

// TargetUsers returns the target user count.
func (m Model) TargetUsers() int {
	return m.targetUsers
}

// RampProgress returns the ramp-up progress (0.0 to 1.0).
func (m Model) RampProgress() float64 {
	if m.targetUsers == 0 {
		return 0
	}
	p := float64(m.startedUsers) / float64(m.targetUsers)
	if p > 1 {
		return 1
	}
	return p
}

// FailRatio returns the overall failure ratio of the current stats.
func (m Model) FailRatio() float64 {
	if m.stats == nil {
		return 0
	}
	return m.stats.FailRatio()
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStats sends a stats update to the TUI.
func SendStats(p *tea.Program, stats *stats.AggregatedStats) {
	if p != nil {
		p.Send(StatsMsg{Stats: stats})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// Run shows the dashboard on the alternate screen until the user quits
// or ctx is cancelled. It returns nil when ctx ended it.
func Run(ctx context.Context, cfg Config, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(cfg), opts...)
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}

// formatMs formats milliseconds for table cells.
func formatMs(ms float64) string {
	switch {
	case ms <= 0:
		return "-"
	case ms < 10:
		return fmt.Sprintf("%.1f", ms)
	default:
		return fmt.Sprintf("%.0f", ms)
	}
}
