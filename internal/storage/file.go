package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// FileDestination appends one JSON object per line, flushing after every
// write (spec §4.4).
type FileDestination struct {
	mu     sync.Mutex
	f      *os.File
	writer *bufio.Writer
}

func NewFileDestination(path string) (*FileDestination, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file destination: open %s: %w", path, err)
	}
	return &FileDestination{f: f, writer: bufio.NewWriter(f)}, nil
}

func (f *FileDestination) Name() string { return "File" }

func (f *FileDestination) Store(ctx context.Context, e *event.Event) (int, error) {
	row, err := e.MarshalRow()
	if err != nil {
		return 0, fmt.Errorf("file: marshal: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.writer.Write(row)
	if err == nil {
		_, werr := f.writer.WriteString("\n")
		if werr != nil {
			err = werr
		}
	}
	if err != nil {
		return 0, fmt.Errorf("file: write: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return 0, fmt.Errorf("file: flush: %w", err)
	}
	return n + 1, nil
}

func (f *FileDestination) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.writer.Flush()
	return f.f.Close()
}
