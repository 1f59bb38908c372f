package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// maxMessageChars stays below Telegram's 4096 hard limit so HTML entities
	// added at finalization do not push a chunk over.
	maxMessageChars = 3900

	// editInterval throttles draft edits; Telegram rate-limits message edits
	// aggressively.
	editInterval = time.Second

	streamEllipsis = "…"
)

// sendFunc posts a new message and returns its message ID.
type sendFunc func(ctx context.Context, chatID string, text string) (int, error)

// editFunc rewrites a previously sent message.
type editFunc func(ctx context.Context, chatID string, messageID int, text string) error

// streamSession tracks one in-flight streamed reply. The first non-empty
// delta posts a placeholder message; later deltas edit it in place, at most
// once per editInterval, always carrying the full accumulated text. Each
// session carries its own mutex so a slow network call for one chat never
// blocks deltas for another.
type streamSession struct {
	mu        sync.Mutex
	chatID    string
	messageID int
	buf       strings.Builder
	lastEdit  time.Time
	active    bool
}

// streamManager owns at most one active stream per chat. Starting a new
// stream for a chat deactivates the previous one; its remaining deltas are
// dropped silently. The manager mutex guards only the session map; network
// calls run under the per-session mutex.
type streamManager struct {
	mu       sync.Mutex
	sessions map[string]*streamSession
	send     sendFunc
	edit     editFunc
	now      func() time.Time
	interval time.Duration
	maxChars int
	logger   *slog.Logger
}

func newStreamManager(send sendFunc, edit editFunc, logger *slog.Logger) *streamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &streamManager{
		sessions: make(map[string]*streamSession),
		send:     send,
		edit:     edit,
		now:      time.Now,
		interval: editInterval,
		maxChars: maxMessageChars,
		logger:   logger,
	}
}

// Callback opens a new stream for chatID and returns the delta receiver.
func (m *streamManager) Callback(chatID string) func(text string) {
	m.mu.Lock()
	prev := m.sessions[chatID]
	session := &streamSession{chatID: chatID, active: true}
	m.sessions[chatID] = session
	m.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.active = false
		prev.mu.Unlock()
	}

	return func(text string) {
		m.push(session, text)
	}
}

func (m *streamManager) push(s *streamSession, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || delta == "" && s.buf.Len() == 0 {
		return
	}
	s.buf.WriteString(delta)
	text := truncateWithEllipsis(s.buf.String(), m.maxChars)
	if strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.messageID == 0 {
		id, err := m.send(ctx, s.chatID, text)
		if err != nil {
			// Leave messageID unset so the next delta retries the send.
			m.logger.Debug("stream placeholder send failed", "chat_id", s.chatID, "error", err)
			return
		}
		s.messageID = id
		s.lastEdit = m.now()
		return
	}

	if m.now().Sub(s.lastEdit) < m.interval {
		// Coalesce: the next delta past the throttle window carries this text.
		return
	}
	if err := m.edit(ctx, s.chatID, s.messageID, text); err != nil {
		m.logger.Debug("stream edit failed", "chat_id", s.chatID, "error", err)
	}
	s.lastEdit = m.now()
}

// Finalize closes the stream for chatID and returns the placeholder message
// ID, if one was posted. Later deltas from the closed stream are dropped.
// Waits for an in-flight send or edit on that chat so the reported
// placeholder ID is settled.
func (m *streamManager) Finalize(chatID string) (messageID int, ok bool) {
	m.mu.Lock()
	session, found := m.sessions[chatID]
	if found {
		delete(m.sessions, chatID)
	}
	m.mu.Unlock()
	if !found {
		return 0, false
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.active {
		return 0, false
	}
	session.active = false
	return session.messageID, session.messageID != 0
}

// Deactivate closes the stream for chatID without reporting a placeholder,
// used when a turn errors out before producing a reply.
func (m *streamManager) Deactivate(chatID string) {
	m.mu.Lock()
	session, found := m.sessions[chatID]
	if found {
		delete(m.sessions, chatID)
	}
	m.mu.Unlock()
	if found {
		session.mu.Lock()
		session.active = false
		session.mu.Unlock()
	}
}

// truncateWithEllipsis bounds text to max runes, marking the cut.
func truncateWithEllipsis(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-1]) + streamEllipsis
}
