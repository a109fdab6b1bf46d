package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds the run facts that do not come from events.
type SummaryConfig struct {
	// TargetUsers is the number of users that were requested.
	TargetUsers int

	// UsersStarted is the number of users that actually started.
	UsersStarted int

	// Duration is the total run duration.
	Duration time.Duration

	// MetricsAddr is the Prometheus endpoint address, if any.
	MetricsAddr string

	// ExitCodes maps jr exit codes to counts (from metrics.Collector).
	ExitCodes map[int]int
}

// FormatExitSummary renders the statistics printed when the run ends:
// a request table, a percentile table, the failure table and the exit
// codes seen.
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                           go-jr-swarm Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Target Users:           %d\n", cfg.TargetUsers)
	fmt.Fprintf(&b, "Users Started:          %d\n\n", cfg.UsersStarted)

	if stats == nil || stats.Total.Requests == 0 {
		b.WriteString("No requests were recorded.\n\n")
		writeFooter(&b, cfg)
		return b.String()
	}

	writeSection(&b, "Request Statistics")
	writeRequestTable(&b, stats)

	writeSection(&b, "Response Time Percentiles (ms)")
	writePercentileTable(&b, stats)

	if len(stats.Failures) > 0 {
		writeSection(&b, "Failures")
		writeFailureTable(&b, stats.Failures)
	}

	if len(cfg.ExitCodes) > 0 {
		writeSection(&b, "Exit Codes")
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	writeFooter(&b, cfg)
	return b.String()
}

func writeSection(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	pad := (len(lightRule)/3 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule + "\n")
}

func writeFooter(b *strings.Builder, cfg SummaryConfig) {
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(heavyRule)
}

func writeRequestTable(b *strings.Builder, stats *AggregatedStats) {
	fmt.Fprintf(b, "  %-6s %-24s %9s %12s %9s %9s %9s %9s\n",
		"Type", "Name", "# reqs", "# fails", "Avg", "Min", "Max", "Med")
	b.WriteString("  " + strings.Repeat("─", 93) + "\n")

	row := func(e EntrySummary) {
		fmt.Fprintf(b, "  %-6s %-24s %9s %12s %9.0f %9.0f %9.0f %9.0f\n",
			truncate(e.RequestType, 6),
			truncate(e.Name, 24),
			FormatNumber(e.Requests),
			fmt.Sprintf("%s(%.2f%%)", FormatNumber(e.Failures), e.FailRatio()*100),
			e.AvgMs, e.MinMs, e.MaxMs, e.P50Ms,
		)
	}
	for _, e := range stats.Entries {
		row(e)
	}
	b.WriteString("  " + strings.Repeat("─", 93) + "\n")
	row(stats.Total)

	fmt.Fprintf(b, "\n  Requests/sec:         %s (overall)\n", FormatRate(stats.RPSOverall))
	fmt.Fprintf(b, "  Failure Rate:         %.2f%%\n\n", stats.FailRatio()*100)
}

func writePercentileTable(b *strings.Builder, stats *AggregatedStats) {
	fmt.Fprintf(b, "  %-6s %-24s %9s %9s %9s %9s %9s\n",
		"Type", "Name", "50%", "90%", "95%", "99%", "100%")
	b.WriteString("  " + strings.Repeat("─", 81) + "\n")

	row := func(e EntrySummary) {
		fmt.Fprintf(b, "  %-6s %-24s %9.0f %9.0f %9.0f %9.0f %9.0f\n",
			truncate(e.RequestType, 6),
			truncate(e.Name, 24),
			e.P50Ms, e.P90Ms, e.P95Ms, e.P99Ms, e.MaxMs,
		)
	}
	for _, e := range stats.Entries {
		row(e)
	}
	b.WriteString("  " + strings.Repeat("─", 81) + "\n")
	row(stats.Total)
	b.WriteString("\n")
}

func writeFailureTable(b *strings.Builder, failures []FailureSummary) {
	fmt.Fprintf(b, "  %-12s %s\n", "# occurrences", "Error")
	b.WriteString("  " + strings.Repeat("─", 77) + "\n")
	for _, f := range failures {
		fmt.Fprintf(b, "  %-12d %s %s: %s\n", f.Occurrences, f.RequestType, f.Name, f.Message)
	}
	b.WriteString("\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case -1:
		return "(not started)"
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 2:
		return "(usage)"
	case 126:
		return "(not executable)"
	case 127:
		return "(not found)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMillis formats a response time given in milliseconds.
func FormatMillis(ms float64) string {
	switch {
	case ms >= 10_000:
		return fmt.Sprintf("%.1f s", ms/1000)
	case ms >= 1:
		return fmt.Sprintf("%.0f ms", ms)
	case ms > 0:
		return fmt.Sprintf("%.0f µs", ms*1000)
	}
	return "0 ms"
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
