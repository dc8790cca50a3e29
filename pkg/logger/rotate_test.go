package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditWriterRotatesAtSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newAuditWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("a"), 600<<10)
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("second write: %v", err)
	}

	backup, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("rotation must keep the previous file as .1: %v", err)
	}
	if backup.Size() != int64(len(chunk)) {
		t.Fatalf("unexpected backup size: %d", backup.Size())
	}
	active, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if active.Size() != int64(len(chunk)) {
		t.Fatalf("active file must only hold the post-rotation write: %d", active.Size())
	}
}

func TestAuditWriterRequiresPath(t *testing.T) {
	if _, err := newAuditWriter("", 1, 1, 1); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}
