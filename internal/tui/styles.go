// Package tui is the live terminal dashboard for a jr swarm, built on
// Bubble Tea and styled with Lipgloss. It shows user ramp-up, request and
// failure rates, per-task response time percentiles, and the most frequent
// failures.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette. Greens follow the Locust web UI so the two views read alike.
var (
	colorAccent = lipgloss.Color("#1B7F4B")
	colorHeader = lipgloss.Color("#34D399")

	colorGood = lipgloss.Color("#22C55E")
	colorWarn = lipgloss.Color("#EAB308")
	colorBad  = lipgloss.Color("#DC2626")
	colorNote = lipgloss.Color("#38BDF8")

	colorFg     = lipgloss.Color("252")
	colorFgSoft = lipgloss.Color("245")
	colorFgDim  = lipgloss.Color("240")
	colorRule   = lipgloss.Color("238")
)

func bold(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

var (
	mutedStyle = lipgloss.NewStyle().Foreground(colorFgSoft)
	dimStyle   = lipgloss.NewStyle().Foreground(colorFgDim)

	statusOK      = bold(colorGood)
	statusWarning = bold(colorWarn)
	statusError   = bold(colorBad)
	statusInfo    = bold(colorNote)

	valueStyle     = bold(colorFg)
	valueGoodStyle = bold(colorGood)
	valueWarnStyle = bold(colorWarn)
	valueBadStyle  = bold(colorBad)
	labelStyle     = lipgloss.NewStyle().Foreground(colorFgSoft).Width(20)

	headerStyle = bold(colorFg).
			Background(colorAccent).
			Padding(0, 1).
			MarginBottom(1)
	footerStyle = lipgloss.NewStyle().Foreground(colorFgSoft).MarginTop(1)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)
	sectionHeaderStyle = bold(colorHeader).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule).
				MarginTop(1)

	barFilledStyle  = lipgloss.NewStyle().Foreground(colorAccent)
	barEmptyStyle   = lipgloss.NewStyle().Foreground(colorRule)
	barPercentStyle = bold(colorFg)

	tableHeaderStyle  = bold(colorHeader)
	tableRowEvenStyle = lipgloss.NewStyle().Foreground(colorFg)
	tableRowOddStyle  = lipgloss.NewStyle().Foreground(colorFgSoft)
	tableTotalStyle   = bold(colorFg)
)

// FailureStatus summarises the run's failure ratio.
type FailureStatus int

const (
	FailureStatusOK FailureStatus = iota
	FailureStatusDegraded
	FailureStatusFailing
)

// failingRatio is the failure ratio above which a run is shown as failing.
const failingRatio = 0.05

// GetFailureStatus classifies a failure ratio.
func GetFailureStatus(failRatio float64) FailureStatus {
	if failRatio > failingRatio {
		return FailureStatusFailing
	}
	if failRatio > 0 {
		return FailureStatusDegraded
	}
	return FailureStatusOK
}

// GetFailureLabel returns the header badge for a failure ratio.
func GetFailureLabel(failRatio float64) string {
	switch GetFailureStatus(failRatio) {
	case FailureStatusFailing:
		return statusError.Render("● Failing")
	case FailureStatusDegraded:
		return statusWarning.Render("● Degraded")
	}
	return statusOK.Render("● Healthy")
}

// GetFailRatioStyle colours a failure count: green at zero, amber under 1%.
func GetFailRatioStyle(failRatio float64) lipgloss.Style {
	if failRatio == 0 {
		return valueGoodStyle
	}
	if failRatio < 0.01 {
		return valueWarnStyle
	}
	return valueBadStyle
}

// RenderKeyValue renders "label:  value" with a fixed-width label column.
func RenderKeyValue(label, value string) string {
	return labelStyle.Render(label+":") + valueStyle.Render(value)
}

// RenderProgressBar draws a bar of width cells (at least 10) followed by
// the percentage.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		barPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
