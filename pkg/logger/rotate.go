package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// auditWriter is the size-capped file sink behind the audit logger. When an
// incoming record would push the current file past the limit, the file is
// renamed into a numbered backup chain and a fresh one is started. Backups
// older than the retention window are pruned during rotation.
type auditWriter struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	retain  time.Duration
	current *os.File
	written int64
}

func newAuditWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditWriter, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 64
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditWriter{
		path:   path,
		limit:  int64(maxSizeMB) << 20,
		keep:   maxBackups,
		retain: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.limit > 0 && w.written+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.current.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.written = 0
	return err
}

func (w *auditWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.current = file
	w.written = info.Size()
	return nil
}

func (w *auditWriter) backupName(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// rotate shifts the backup chain up by one slot, moves the active file into
// slot 1, and drops anything past the retention window.
func (w *auditWriter) rotate() error {
	if w.current != nil {
		_ = w.current.Close()
		w.current = nil
	}
	w.written = 0

	for n := w.keep - 1; n >= 1; n-- {
		if _, err := os.Stat(w.backupName(n)); err == nil {
			_ = os.Rename(w.backupName(n), w.backupName(n+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.backupName(1))
	}

	if w.retain > 0 {
		cutoff := time.Now().Add(-w.retain)
		for n := 1; n <= w.keep; n++ {
			info, err := os.Stat(w.backupName(n))
			if err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(w.backupName(n))
			}
		}
	}
	return nil
}
