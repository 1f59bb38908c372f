package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []*models.Session
}

func (r *recordingSaver) Save(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	clone.Messages = append([]models.Message{}, session.Messages...)
	r.saved = append(r.saved, &clone)
	return nil
}

func makeSession(n int) *models.Session {
	session := &models.Session{Key: "telegram:42"}
	for i := 1; i <= n; i++ {
		session.Messages = append(session.Messages, models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	return session
}

func newTestManager(t *testing.T, window int, summarize Summarizer) (*Manager, *recordingSaver) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	saver := &recordingSaver{}
	return NewManager(window, store, saver, summarize, slog.New(slog.DiscardHandler)), saver
}

func TestTrimIfDisabledKeepsMostRecentTen(t *testing.T) {
	m, _ := newTestManager(t, DisabledMemoryWindow, nil)

	session := makeSession(15)
	if !m.TrimIfDisabled(session) {
		t.Fatal("expected trim")
	}
	if len(session.Messages) != 10 {
		t.Fatalf("got %d messages, want 10", len(session.Messages))
	}
	if session.Messages[0].Content != "message 6" || session.Messages[9].Content != "message 15" {
		t.Errorf("wrong messages kept: first=%q last=%q",
			session.Messages[0].Content, session.Messages[9].Content)
	}
}

func TestTrimIfDisabledNoOpAtOrBelowCap(t *testing.T) {
	m, _ := newTestManager(t, DisabledMemoryWindow, nil)
	session := makeSession(10)
	if m.TrimIfDisabled(session) {
		t.Error("trim fired at exactly the cap")
	}
	if len(session.Messages) != 10 {
		t.Errorf("messages changed: %d", len(session.Messages))
	}
}

func TestTrimIfDisabledNoOpWhenMemoryEnabled(t *testing.T) {
	m, _ := newTestManager(t, 6, nil)
	session := makeSession(15)
	if m.TrimIfDisabled(session) {
		t.Error("hard trim fired while memory is enabled")
	}
}

func TestKeepCountClamps(t *testing.T) {
	cases := map[int]int{
		6:  3,
		2:  2, // 2/2=1 clamps up to 2
		40: 10,
		4:  2,
		20: 10,
	}
	for window, want := range cases {
		m, _ := newTestManager(t, window, nil)
		if got := m.KeepCount(); got != want {
			t.Errorf("KeepCount(window=%d) = %d, want %d", window, got, want)
		}
	}
}

func TestConsolidateTrimsSynchronouslyBeforeSummarizing(t *testing.T) {
	summarizeStarted := make(chan struct{})
	release := make(chan struct{})
	summarize := func(ctx context.Context, prompt string) (string, error) {
		close(summarizeStarted)
		<-release
		return `{"history_entry":"talked","memory_update":"# Memory"}`, nil
	}
	m, saver := newTestManager(t, 6, summarize)

	session := makeSession(10)
	if err := m.ConsolidateIfNeeded(context.Background(), session); err != nil {
		t.Fatalf("ConsolidateIfNeeded: %v", err)
	}

	// The trim and persist completed before ConsolidateIfNeeded returned.
	if len(session.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(session.Messages))
	}
	if session.Messages[2].Content != "message 10" {
		t.Errorf("last kept message = %q", session.Messages[2].Content)
	}
	saver.mu.Lock()
	persisted := len(saver.saved)
	saver.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("session persisted %d times before return, want 1", persisted)
	}

	// A writer appending now sees keep_count+1 messages, racing nothing.
	session.AddMessage(models.Message{Role: models.RoleUser, Content: "new"})
	if len(session.Messages) != 4 {
		t.Errorf("got %d messages after append, want 4", len(session.Messages))
	}

	close(release)
	m.Wait()
	<-summarizeStarted
}

func TestConsolidateWritesMemoryAndHistory(t *testing.T) {
	summarize := func(ctx context.Context, prompt string) (string, error) {
		return `{"history_entry":"planned a trip","memory_update":"# Memory\nUser likes trains."}`, nil
	}
	m, _ := newTestManager(t, 6, summarize)

	session := makeSession(10)
	if err := m.ConsolidateIfNeeded(context.Background(), session); err != nil {
		t.Fatalf("ConsolidateIfNeeded: %v", err)
	}
	m.Wait()

	if got := m.Store().ReadMemory(); !strings.Contains(got, "likes trains") {
		t.Errorf("memory not updated: %q", got)
	}
	if got := m.Store().ReadHistory(); !strings.Contains(got, "planned a trip") {
		t.Errorf("history not appended: %q", got)
	}
}

func TestConsolidateNoOpWithinWindow(t *testing.T) {
	m, saver := newTestManager(t, 6, nil)
	session := makeSession(6)
	if err := m.ConsolidateIfNeeded(context.Background(), session); err != nil {
		t.Fatalf("ConsolidateIfNeeded: %v", err)
	}
	if len(session.Messages) != 6 {
		t.Errorf("session changed: %d messages", len(session.Messages))
	}
	if len(saver.saved) != 0 {
		t.Error("session persisted without a trim")
	}
}

func TestConsolidateSurvivesSummarizerFailure(t *testing.T) {
	summarize := func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("provider down")
	}
	m, _ := newTestManager(t, 6, summarize)

	session := makeSession(10)
	if err := m.ConsolidateIfNeeded(context.Background(), session); err != nil {
		t.Fatalf("ConsolidateIfNeeded: %v", err)
	}
	m.Wait()

	// The trimmed session is intact; the failure only cost the summary.
	if len(session.Messages) != 3 {
		t.Errorf("trimmed session corrupted: %d messages", len(session.Messages))
	}
	if m.Store().ReadMemory() != "" {
		t.Error("memory written despite failure")
	}
}

func TestParseSummaryToleratesFences(t *testing.T) {
	raw := "```json\n{\"history_entry\":\"x\",\"memory_update\":\"y\"}\n```"
	entry, update, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("parseSummary: %v", err)
	}
	if entry != "x" || update != "y" {
		t.Errorf("entry=%q update=%q", entry, update)
	}
}
