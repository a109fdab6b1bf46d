package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestGetFailureStatus(t *testing.T) {
	tests := []struct {
		name      string
		failRatio float64
		want      FailureStatus
	}{
		{"no failures", 0, FailureStatusOK},
		{"tiny", 0.001, FailureStatusDegraded},
		{"1%", 0.01, FailureStatusDegraded},
		{"5%", 0.05, FailureStatusDegraded},
		{"6%", 0.06, FailureStatusFailing},
		{"all", 1, FailureStatusFailing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetFailureStatus(tt.failRatio); got != tt.want {
				t.Errorf("GetFailureStatus(%v) = %v, want %v", tt.failRatio, got, tt.want)
			}
		})
	}
}

func TestGetFailureLabel(t *testing.T) {
	tests := []struct {
		failRatio  float64
		wantSubstr string
	}{
		{0, "Healthy"},
		{0.02, "Degraded"},
		{0.5, "Failing"},
	}

	for _, tt := range tests {
		if got := GetFailureLabel(tt.failRatio); !strings.Contains(got, tt.wantSubstr) {
			t.Errorf("GetFailureLabel(%v) = %q, want to contain %q", tt.failRatio, got, tt.wantSubstr)
		}
	}
}

func TestGetFailRatioStyle(t *testing.T) {
	tests := []struct {
		failRatio float64
		want      lipgloss.Style
	}{
		{0, valueGoodStyle},
		{0.005, valueWarnStyle},
		{0.2, valueBadStyle},
	}

	for _, tt := range tests {
		got := GetFailRatioStyle(tt.failRatio)
		if got.GetForeground() != tt.want.GetForeground() {
			t.Errorf("GetFailRatioStyle(%v) foreground = %v, want %v", tt.failRatio, got.GetForeground(), tt.want.GetForeground())
		}
	}
}

func TestRenderKeyValue(t *testing.T) {
	got := RenderKeyValue("Requests", "1.5K")
	if !strings.Contains(got, "Requests:") || !strings.Contains(got, "1.5K") {
		t.Errorf("RenderKeyValue() = %q", got)
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name        string
		progress    float64
		width       int
		wantPercent string
	}{
		{"empty", 0, 20, "0%"},
		{"half", 0.5, 20, "50%"},
		{"full", 1, 20, "100%"},
		{"over", 1.5, 20, "150%"},
		{"negative", -0.5, 20, "-50%"},
		{"narrow width", 0.5, 3, "50%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderProgressBar(tt.progress, tt.width)
			if !strings.Contains(got, tt.wantPercent) {
				t.Errorf("RenderProgressBar(%v, %d) = %q, want %q", tt.progress, tt.width, got, tt.wantPercent)
			}
			bars := strings.Count(got, "█") + strings.Count(got, "░")
			wantWidth := tt.width
			if wantWidth < 10 {
				wantWidth = 10
			}
			if bars != wantWidth {
				t.Errorf("bar cells = %d, want %d", bars, wantWidth)
			}
		})
	}
}

func TestRenderProgressBar_Filled(t *testing.T) {
	tests := []struct {
		progress   float64
		wantFilled int
	}{
		{0, 0},
		{0.25, 5},
		{1, 20},
		{3, 20},
		{-1, 0},
	}
	for _, tt := range tests {
		got := strings.Count(RenderProgressBar(tt.progress, 20), "█")
		if got != tt.wantFilled {
			t.Errorf("RenderProgressBar(%v) filled = %d, want %d", tt.progress, got, tt.wantFilled)
		}
	}
}
