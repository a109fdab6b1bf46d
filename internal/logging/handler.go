package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the longest stderr line kept before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent stderr lines kept per invocation.
	MaxBufferedLines = 20
)

// StderrHandler consumes the stderr stream of one jr invocation. It is an
// io.Writer that splits its input into lines. Recent lines are kept in a
// ring so a failed invocation can carry them in its error; every line is
// also logged.
type StderrHandler struct {
	userID  int
	logger  *slog.Logger
	verbose bool

	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex

	// partial holds an unterminated line, capped at MaxLineLength+1 bytes.
	partial []byte
	wmu     sync.Mutex
}

// NewStderrHandler creates a handler for one invocation of a user.
func NewStderrHandler(userID int, logger *slog.Logger, verbose bool) *StderrHandler {
	return &StderrHandler{
		userID:  userID,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// Write splits p into lines. A trailing partial line is held until the
// next newline or Flush. It never fails.
func (h *StderrHandler) Write(p []byte) (int, error) {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			h.appendPartial(p)
			break
		}
		h.appendPartial(p[:i])
		h.emitPartial()
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits a trailing line that had no newline.
func (h *StderrHandler) Flush() {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if len(h.partial) > 0 {
		h.emitPartial()
	}
}

func (h *StderrHandler) appendPartial(p []byte) {
	if room := MaxLineLength + 1 - len(h.partial); room > 0 {
		h.partial = append(h.partial, p[:min(len(p), room)]...)
	}
}

func (h *StderrHandler) emitPartial() {
	h.HandleLine(strings.TrimSuffix(string(h.partial), "\r"))
	h.partial = h.partial[:0]
}

// HandleReader copies r into the handler until EOF or a read error.
func (h *StderrHandler) HandleReader(r io.Reader) {
	_, _ = io.Copy(h, r)
	h.Flush()
}

// HandleLine records and logs one line.
func (h *StderrHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

func (h *StderrHandler) logLine(line string) {
	if h.logger == nil {
		return
	}
	level := classifyLine(line)
	if !h.verbose && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "jr_stderr",
		"user_id", h.userID,
		"line", line,
	)
}

// classifyLine maps a jr stderr line to a log level. jr logs through
// zerolog, so both the console ("ERR", "WRN") and JSON ("level":"error")
// renderings are recognised.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(line, " ERR "),
		strings.Contains(line, " FTL "),
		strings.Contains(lower, `"level":"error"`),
		strings.Contains(lower, `"level":"fatal"`),
		strings.Contains(lower, "panic:"),
		strings.Contains(lower, "error:"):
		return slog.LevelError
	case strings.Contains(line, " WRN "),
		strings.Contains(lower, `"level":"warn"`):
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.total {
		n = h.total
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// LineCount returns the total number of lines seen.
func (h *StderrHandler) LineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
