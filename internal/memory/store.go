// Package memory bounds session growth: a synchronous trim keeps transcripts
// small, and a background summarization folds trimmed messages into durable
// long-term memory files.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	memoryFileName  = "MEMORY.md"
	historyFileName = "HISTORY.md"
)

// FileStore is the durable long-term memory for one workspace: MEMORY.md is
// the fact store, overwritten wholesale on update; HISTORY.md is an
// append-only log of conversation summaries.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ReadMemory returns the current long-term fact store, or "" when none
// exists yet.
func (s *FileStore) ReadMemory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, memoryFileName))
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteMemory replaces the long-term fact store.
func (s *FileStore) WriteMemory(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, memoryFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", memoryFileName, err)
	}
	return nil
}

// AppendHistory adds one dated summary entry to the history log.
func (s *FileStore) AppendHistory(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, historyFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", historyFileName, err)
	}
	defer f.Close()
	line := fmt.Sprintf("## %s\n%s\n\n", time.Now().UTC().Format("2006-01-02 15:04"), entry)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append %s: %w", historyFileName, err)
	}
	return nil
}

// ReadHistory returns the full history log, or "" when none exists.
func (s *FileStore) ReadHistory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, historyFileName))
	if err != nil {
		return ""
	}
	return string(data)
}
