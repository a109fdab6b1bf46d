package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-jr-swarm/internal/stats"
)

// maxFailureRows caps the failure section of the summary view.
const maxFailureRows = 5

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main summary dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())

	if m.stats != nil && m.stats.Total.Requests > 0 {
		sections = append(sections, m.renderThroughput())
		sections = append(sections, m.renderRequestTable())
		if len(m.stats.Failures) > 0 {
			sections = append(sections, m.renderFailures(maxFailureRows))
		}
	} else {
		sections = append(sections, boxStyle.Width(m.width-2).Render(
			dimStyle.Render("Waiting for the first invocation to finish..."),
		))
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderFailureView renders every distinct failure.
func (m Model) renderFailureView() string {
	var sections []string

	sections = append(sections, m.renderHeader())

	if m.stats == nil || len(m.stats.Failures) == 0 {
		sections = append(sections, boxStyle.Width(m.width-2).Render(
			dimStyle.Render("No failures recorded. Press 'f' to go back."),
		))
	} else {
		maxRows := m.height - 10
		if maxRows < 5 {
			maxRows = 5
		}
		sections = append(sections, m.renderFailures(maxRows))
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	remaining := ""
	if r := m.Remaining(); r >= 0 {
		remaining = fmt.Sprintf(" │ Remaining: %s", formatDuration(r))
	}

	header := fmt.Sprintf(
		" go-jr-swarm │ %s │ Users: %d/%d │ Elapsed: %s%s ",
		GetFailureLabel(m.FailRatio()),
		m.ActiveUsers(),
		m.targetUsers,
		formatDuration(m.Elapsed()),
		remaining,
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	progress := m.RampProgress()

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(progress, barWidth)

	var status string
	if progress >= 1.0 {
		status = statusOK.Render(fmt.Sprintf("✓ All users started (%d active)", m.ActiveUsers()))
	} else {
		status = statusInfo.Render(fmt.Sprintf("Ramping up... %d/%d", m.startedUsers, m.targetUsers))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Ramp Progress"),
		progressBar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Throughput
// =============================================================================

func (m Model) renderThroughput() string {
	s := m.stats

	rates := fmt.Sprintf("%s (1s)  %s (10s)  %s (60s)",
		formatRate(s.RPS1s), formatRate(s.RPS10s), formatRate(s.RPS60s))

	failRatio := s.FailRatio()
	failures := lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Failures:"),
		GetFailRatioStyle(failRatio).Render(fmt.Sprintf("%s (%s)", formatNumber(s.Total.Failures), formatPercent(failRatio))),
		mutedStyle.Render("  "+formatRate(s.FailuresPerSec10s)),
	)

	rows := []string{
		RenderKeyValue("Requests", formatNumber(s.Total.Requests)),
		RenderKeyValue("Requests/sec", rates),
		failures,
		RenderKeyValue("Overall rate", formatRate(s.RPSOverall)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Throughput")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Request Table
// =============================================================================

const requestRowFormat = "%-20s %8s %8s %7s %7s %7s %7s %7s %7s"

func (m Model) renderRequestTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf(requestRowFormat,
		"Name", "Reqs", "Fails", "Avg", "Min", "Max", "p50", "p95", "p99"))

	maxRows := m.height - 20
	if maxRows < 3 {
		maxRows = 3
	}

	rows := []string{header}
	for i, e := range m.stats.Entries {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more tasks", len(m.stats.Entries)-maxRows)))
			break
		}
		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}
		rows = append(rows, rowStyle.Render(requestRow(e)))
	}
	if len(m.stats.Entries) > 1 {
		rows = append(rows, tableTotalStyle.Render(requestRow(m.stats.Total)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Response Times (ms)")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func requestRow(e stats.EntrySummary) string {
	name := e.Name
	if e.RequestType != "" && e.Name != stats.TotalName {
		name = e.RequestType + " " + e.Name
	}
	return fmt.Sprintf(requestRowFormat,
		truncate(name, 20),
		formatNumber(e.Requests),
		formatNumber(e.Failures),
		formatMs(e.AvgMs),
		formatMs(e.MinMs),
		formatMs(e.MaxMs),
		formatMs(e.P50Ms),
		formatMs(e.P95Ms),
		formatMs(e.P99Ms),
	)
}

// =============================================================================
// Failures
// =============================================================================

func (m Model) renderFailures(limit int) string {
	msgWidth := m.width - 30
	if msgWidth < 20 {
		msgWidth = 20
	}

	var rows []string
	for i, f := range m.stats.Failures {
		if i >= limit {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more (press 'f')", len(m.stats.Failures)-limit)))
			break
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			valueBadStyle.Width(8).Render(formatNumber(f.Occurrences)),
			mutedStyle.Render(truncate(f.Name, 16)+" "),
			truncate(f.Message, msgWidth),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Failures")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"f: failures",
		"r: refresh",
	}

	cmd := m.command
	maxCmdLen := m.width - 50
	if maxCmdLen > 10 {
		cmd = truncate(cmd, maxCmdLen)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(cmd)
	if m.metricsAddr != "" {
		right = dimStyle.Render(cmd + " │ http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
