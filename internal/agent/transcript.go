package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal logging surface the runner needs. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Transcript appends timestamped lines describing every agent exchange to a
// plain text file so a run can be inspected after the fact.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
}

// OpenTranscript creates (or reuses) the transcript file at path.
func OpenTranscript(path string) (*Transcript, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript: ensure dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	return &Transcript{file: f}, nil
}

// Close releases the file handle.
func (t *Transcript) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	return t.file.Close()
}

// Printf writes a single timestamped entry.
func (t *Transcript) Printf(format string, args ...any) {
	if t == nil || t.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.file, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
}
