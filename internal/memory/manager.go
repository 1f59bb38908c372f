package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

const (
	// DisabledMemoryWindow turns consolidation off entirely.
	DisabledMemoryWindow = 0

	// MaxMessagesWithoutConsolidation caps a session even when memory is
	// disabled; beyond it the oldest messages are dropped outright.
	MaxMessagesWithoutConsolidation = 10

	// MinKeepCount and MaxKeepCount clamp how many recent messages a
	// consolidation retains.
	MinKeepCount = 2
	MaxKeepCount = 10
)

// Summarizer produces raw LLM output for a summarization prompt. The gateway
// binds it to the configured provider.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// SessionSaver persists a session. The manager needs it for the synchronous
// phase of a consolidation.
type SessionSaver interface {
	Save(ctx context.Context, session *models.Session) error
}

const summarizePromptHeader = `Summarize the following conversation messages. Respond with a single JSON object:
{"history_entry": "<2-4 sentence summary of what happened>", "memory_update": "<the full updated long-term memory document in Markdown>"}

Current long-term memory:
%s

Messages to summarize:
%s`

// Manager trims sessions and consolidates trimmed messages into long-term
// memory. The trim is synchronous and persisted before any summarization I/O
// starts, so writers appending right after ConsolidateIfNeeded returns can
// never race with the background work.
type Manager struct {
	window    int
	store     *FileStore
	sessions  SessionSaver
	summarize Summarizer
	logger    *slog.Logger

	// background tracks in-flight summarizations so tests and shutdown can
	// wait for them; the trim correctness never depends on this join.
	background sync.WaitGroup
}

// NewManager creates a manager with the given window. A window of
// DisabledMemoryWindow disables consolidation (the hard cap still applies).
func NewManager(window int, store *FileStore, sessions SessionSaver, summarize Summarizer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		window:    window,
		store:     store,
		sessions:  sessions,
		summarize: summarize,
		logger:    logger.With("component", "memory"),
	}
}

// Store exposes the long-term file store for context building.
func (m *Manager) Store() *FileStore {
	return m.store
}

// Wait blocks until all background summarizations have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

// TrimIfDisabled applies the hard FIFO cap when consolidation is off:
// sessions longer than MaxMessagesWithoutConsolidation keep only their most
// recent messages. Reports whether the session changed; callers persist it.
func (m *Manager) TrimIfDisabled(session *models.Session) bool {
	if m.window != DisabledMemoryWindow {
		return false
	}
	if len(session.Messages) <= MaxMessagesWithoutConsolidation {
		return false
	}
	session.Messages = append([]models.Message{}, session.Messages[len(session.Messages)-MaxMessagesWithoutConsolidation:]...)
	return true
}

// KeepCount returns how many recent messages a consolidation retains.
func (m *Manager) KeepCount() int {
	keep := m.window / 2
	if keep < MinKeepCount {
		keep = MinKeepCount
	}
	if keep > MaxKeepCount {
		keep = MaxKeepCount
	}
	return keep
}

// ConsolidateIfNeeded trims the session when it exceeds the window and kicks
// off background summarization of the removed prefix. The session is trimmed
// and persisted before this returns; background failures are logged and
// swallowed.
func (m *Manager) ConsolidateIfNeeded(ctx context.Context, session *models.Session) error {
	if m.window == DisabledMemoryWindow {
		if m.TrimIfDisabled(session) {
			if err := m.sessions.Save(ctx, session); err != nil {
				return fmt.Errorf("persist trimmed session: %w", err)
			}
		}
		return nil
	}

	if len(session.Messages) <= m.window {
		return nil
	}

	keep := m.KeepCount()
	if keep >= len(session.Messages) {
		return nil
	}

	toSummarize := append([]models.Message{}, session.Messages[:len(session.Messages)-keep]...)
	session.Messages = append([]models.Message{}, session.Messages[len(session.Messages)-keep:]...)

	if err := m.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("persist trimmed session: %w", err)
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		m.summarizeInBackground(session.Key, toSummarize)
	}()
	return nil
}

// summarizeInBackground runs the async phase. It must never touch the
// session; the trim already completed and persisted.
func (m *Manager) summarizeInBackground(sessionKey string, messages []models.Message) {
	if m.summarize == nil {
		return
	}
	ctx := context.Background()

	prompt := fmt.Sprintf(summarizePromptHeader, m.store.ReadMemory(), renderTranscript(messages))
	raw, err := m.summarize(ctx, prompt)
	if err != nil {
		m.logger.Error("memory summarization failed",
			"session_key", sessionKey,
			"error", err)
		return
	}

	entry, update, err := parseSummary(raw)
	if err != nil {
		m.logger.Error("memory summarization returned malformed output",
			"session_key", sessionKey,
			"error", err)
		return
	}

	if err := m.store.AppendHistory(entry); err != nil {
		m.logger.Error("failed to append history", "error", err)
	}
	if update != "" {
		if err := m.store.WriteMemory(update); err != nil {
			m.logger.Error("failed to write memory", "error", err)
		}
	}
	m.logger.Info("memory consolidated",
		"session_key", sessionKey,
		"summarized_messages", len(messages))
}

func renderTranscript(messages []models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return sb.String()
}

func parseSummary(raw string) (historyEntry, memoryUpdate string, err error) {
	raw = strings.TrimSpace(raw)
	// Tolerate fenced output.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed struct {
		HistoryEntry string `json:"history_entry"`
		MemoryUpdate string `json:"memory_update"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return "", "", fmt.Errorf("parse summary JSON: %w", err)
	}
	return parsed.HistoryEntry, parsed.MemoryUpdate, nil
}
