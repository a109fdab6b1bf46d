package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", "JSON", "", "invalid"} {
		t.Run(format, func(t *testing.T) {
			if NewLogger(format, "info", false) == nil {
				t.Error("NewLogger returned nil")
			}
		})
	}
}

func TestNewLogger_VerboseOverride(t *testing.T) {
	logger := NewLogger("text", "error", true)
	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Error("verbose logger should enable debug")
	}
}

func TestNewLoggerWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLoggerWithWriter(&buf, "json", "info")
	logger.Info("user_started", "user_id", 7)

	output := buf.String()
	if !strings.Contains(output, `"msg":"user_started"`) {
		t.Errorf("expected JSON msg field, got: %s", output)
	}
	if !strings.Contains(output, `"user_id":7`) {
		t.Errorf("expected user_id attribute, got: %s", output)
	}
}

func TestNewLoggerWithWriter_TextAndDefault(t *testing.T) {
	for _, format := range []string{"text", "unknown"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, format, "info")
			logger.Info("user_started", "user_id", 3)

			if !strings.Contains(buf.String(), "user_id=3") {
				t.Errorf("expected text output, got: %s", buf.String())
			}
		})
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "warn")

	logger.Info("info msg")
	logger.Warn("warn msg")

	output := buf.String()
	if strings.Contains(output, "info msg") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(output, "warn msg") {
		t.Error("warn should pass at warn level")
	}
}

func TestNewLoggerWithWriter_NilWriter(t *testing.T) {
	logger := NewLoggerWithWriter(nil, "json", "info")
	logger.Info("discarded") // must not panic
}

func TestForUser(t *testing.T) {
	var buf bytes.Buffer
	logger := ForUser(NewLoggerWithWriter(&buf, "text", "info"), 42)
	logger.Info("task_done")

	if !strings.Contains(buf.String(), "user_id=42") {
		t.Errorf("expected user_id=42, got: %s", buf.String())
	}
}

func TestStderrHandler_RecentLines(t *testing.T) {
	h := NewStderrHandler(1, nil, false)
	for i := 0; i < 5; i++ {
		h.HandleLine(fmt.Sprintf("line %d", i))
	}

	lines := h.RecentLines(3)
	want := []string{"line 2", "line 3", "line 4"}
	if len(lines) != len(want) {
		t.Fatalf("RecentLines(3) = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}

	if got := h.RecentLines(100); len(got) != 5 {
		t.Errorf("RecentLines(100) returned %d lines, want 5", len(got))
	}
}

func TestStderrHandler_RingWraps(t *testing.T) {
	h := NewStderrHandler(1, nil, false)
	for i := 0; i < MaxBufferedLines+7; i++ {
		h.HandleLine(fmt.Sprintf("line %d", i))
	}

	lines := h.RecentLines(MaxBufferedLines)
	if len(lines) != MaxBufferedLines {
		t.Fatalf("got %d lines, want %d", len(lines), MaxBufferedLines)
	}
	if lines[0] != "line 7" {
		t.Errorf("oldest kept line = %q, want %q", lines[0], "line 7")
	}
	if h.LineCount() != MaxBufferedLines+7 {
		t.Errorf("LineCount() = %d, want %d", h.LineCount(), MaxBufferedLines+7)
	}
}

func TestStderrHandler_Truncation(t *testing.T) {
	h := NewStderrHandler(1, nil, false)
	h.HandleLine(strings.Repeat("x", MaxLineLength+10))

	line := h.RecentLines(1)[0]
	if !strings.HasSuffix(line, "...(truncated)") {
		t.Errorf("long line not truncated: len=%d", len(line))
	}
}

func TestClassifyLine(t *testing.T) {
	testCases := []struct {
		line  string
		level slog.Level
	}{
		{"10:04AM ERR template not found", slog.LevelError},
		{`{"level":"error","message":"boom"}`, slog.LevelError},
		{"10:04AM FTL cannot open template dir", slog.LevelError},
		{`{"level":"warn","message":"slow"}`, slog.LevelWarn},
		{"10:04AM WRN slow producer", slog.LevelWarn},
		{"panic: runtime error", slog.LevelError},
		{"Error: unknown command \"foo\" for \"jr\"", slog.LevelError},
		{"10:04AM INF generated 1 record", slog.LevelDebug},
		{"plain output", slog.LevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			if got := classifyLine(tc.line); got != tc.level {
				t.Errorf("classifyLine(%q) = %v, want %v", tc.line, got, tc.level)
			}
		})
	}
}

func TestStderrHandler_VerboseLogging(t *testing.T) {
	t.Run("quiet_skips_debug", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewStderrHandler(1, NewLoggerWithWriter(&buf, "text", "debug"), false)
		h.HandleLine("10:04AM INF generated")
		if buf.Len() != 0 {
			t.Errorf("non-verbose handler logged debug line: %s", buf.String())
		}
	})

	t.Run("quiet_logs_errors", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewStderrHandler(1, NewLoggerWithWriter(&buf, "text", "debug"), false)
		h.HandleLine("10:04AM ERR broken")
		if !strings.Contains(buf.String(), "jr_stderr") {
			t.Errorf("error line not logged: %s", buf.String())
		}
	})

	t.Run("verbose_logs_all", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewStderrHandler(1, NewLoggerWithWriter(&buf, "text", "debug"), true)
		h.HandleLine("10:04AM INF generated")
		if !strings.Contains(buf.String(), "generated") {
			t.Errorf("verbose handler did not log: %s", buf.String())
		}
	})
}

func TestStderrHandler_HandleReader(t *testing.T) {
	h := NewStderrHandler(1, nil, true)
	h.HandleReader(strings.NewReader("line1\nline2\nline3\n"))

	if got := h.RecentLines(10); len(got) != 3 {
		t.Fatalf("got %d lines, want 3", len(got))
	}
}

func TestStderrHandler_HandleReader_LongLine(t *testing.T) {
	h := NewStderrHandler(1, nil, true)
	input := "short\n" + strings.Repeat("y", MaxLineLength*2) + "\nafter\n"
	r := strings.NewReader(input)

	h.HandleReader(r)

	if r.Len() != 0 {
		t.Errorf("reader not drained, %d bytes left", r.Len())
	}
	lines := h.RecentLines(10)
	if len(lines) != 3 || lines[0] != "short" || lines[2] != "after" {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasSuffix(lines[1], "...(truncated)") || len(lines[1]) != MaxLineLength+len("...(truncated)") {
		t.Errorf("long line len=%d, want truncated to %d", len(lines[1]), MaxLineLength)
	}
}

func TestStderrHandler_Write(t *testing.T) {
	testCases := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single chunk", []string{"a\nb\n"}, []string{"a", "b"}},
		{"split across writes", []string{"hel", "lo\nwor", "ld\n"}, []string{"hello", "world"}},
		{"crlf", []string{"a\r\n"}, []string{"a"}},
		{"empty line", []string{"\n"}, []string{""}},
		{"unterminated flushed", []string{"x\ntail"}, []string{"x", "tail"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewStderrHandler(1, nil, false)
			for _, c := range tc.chunks {
				n, err := h.Write([]byte(c))
				if err != nil || n != len(c) {
					t.Fatalf("Write(%q) = %d, %v", c, n, err)
				}
			}
			h.Flush()

			got := h.RecentLines(10)
			if len(got) != len(tc.want) {
				t.Fatalf("lines = %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestStderrHandler_FlushEmpty(t *testing.T) {
	h := NewStderrHandler(1, nil, false)
	h.Flush()
	if h.LineCount() != 0 {
		t.Errorf("LineCount() = %d after empty Flush, want 0", h.LineCount())
	}
}

func TestStderrHandler_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	h := NewStderrHandler(1, NewLoggerWithWriter(&buf, "text", "debug"), false)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			h.HandleLine("concurrent line")
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 100; i++ {
			_ = h.RecentLines(10)
		}
		done <- true
	}()

	<-done
	<-done
}
