// Package sessions owns conversation transcripts: lazily-created per-key
// sessions, a JSON file per key on disk, and per-key locks that serialize
// concurrent turns on the same conversation.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

// Store manages sessions keyed by "channel:chat_id".
type Store interface {
	// GetOrCreate returns the session for key, creating an empty one on
	// first access.
	GetOrCreate(ctx context.Context, key string) (*models.Session, error)

	// Save persists the session. Returns an error on I/O failure; callers
	// that rely on the persisted state for correctness must not ignore it.
	Save(ctx context.Context, session *models.Session) error

	// Clear drops the session's transcript and persists the empty session.
	Clear(ctx context.Context, key string) error

	// Lock serializes turns on one session key. The returned function
	// releases the lock.
	Lock(key string) func()
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// sanitizeKey maps a session key to a filesystem-safe file name.
func sanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// FileStore keeps sessions in memory and mirrors every save to one JSON file
// per key.
type FileStore struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*models.Session

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{
		dir:      dir,
		sessions: make(map[string]*models.Session),
		locks:    make(map[string]*keyLock),
	}, nil
}

// GetOrCreate loads the session from cache, then disk, then creates it.
func (s *FileStore) GetOrCreate(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[key]; ok {
		return cloneSession(session), nil
	}

	session, err := s.loadFromDisk(key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &models.Session{Key: key}
	}
	s.sessions[key] = session
	return cloneSession(session), nil
}

// Save persists the session to cache and disk.
func (s *FileStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil || session.Key == "" {
		return fmt.Errorf("session key is required")
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.Key, err)
	}
	path := s.path(session.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", session.Key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace session %s: %w", session.Key, err)
	}

	s.mu.Lock()
	s.sessions[session.Key] = cloneSession(session)
	s.mu.Unlock()
	return nil
}

// Clear empties the transcript for key and persists the result.
func (s *FileStore) Clear(ctx context.Context, key string) error {
	session, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	session.Clear()
	return s.Save(ctx, session)
}

// Lock acquires the per-key mutex. Locks are refcounted so the map does not
// grow with every session key ever seen.
func (s *FileStore) Lock(key string) func() {
	s.locksMu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &keyLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

func (s *FileStore) loadFromDisk(key string) (*models.Session, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", key, err)
	}
	session.Key = key
	return &session, nil
}

func cloneSession(session *models.Session) *models.Session {
	clone := *session
	clone.Messages = make([]models.Message, len(session.Messages))
	copy(clone.Messages, session.Messages)
	return &clone
}
