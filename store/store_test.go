package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/my-chat-db/db"
)

func openTestDB(t *testing.T, capacityBytes int64) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"), capacityBytes)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestStore(t *testing.T, database *db.DB, opts Options) *Store {
	t.Helper()

	s := New(database, opts)
	if err := s.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return s
}

func defaultTestOptions() Options {
	return Options{
		QuotaBudgetBytes:      1 << 20,
		QuotaWarningFraction:  0.50,
		QuotaCriticalFraction: 0.80,
		EvictionFloor:         2,
		PreventiveKeep:        3,
	}
}

func TestLoadFreshCreatesSingleSession(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	if got := s.SessionCount(); got != 1 {
		t.Fatalf("fresh store should have 1 session, got %d", got)
	}

	sess := s.Current()
	if sess == nil {
		t.Fatal("fresh store has no current session")
	}
	if sess.Title != DefaultTitle {
		t.Errorf("fresh session title = %q, want %q", sess.Title, DefaultTitle)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("fresh session should have no messages, got %d", len(sess.Messages))
	}
}

func TestLoadCorruptBlobStartsFresh(t *testing.T) {
	database := openTestDB(t, 1<<20)
	if err := database.PutBlob("chat:sessions", "{not json"); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}

	s := newTestStore(t, database, defaultTestOptions())
	if got := s.SessionCount(); got != 1 {
		t.Errorf("corrupt blob should yield a fresh single session, got %d", got)
	}
}

func TestLoadPicksMostRecentSession(t *testing.T) {
	database := openTestDB(t, 1<<20)
	s := newTestStore(t, database, defaultTestOptions())

	first := s.Current()
	time.Sleep(2 * time.Millisecond)

	second, err := s.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Switch back to the older session and flush; a reload must still
	// land on the most recently updated one.
	if err := s.SwitchSession(first.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded := newTestStore(t, database, defaultTestOptions())
	if got := reloaded.Current().ID; got != second.ID {
		t.Errorf("reload current = %s, want most recent %s", got, second.ID)
	}
}

func TestSwitchSession(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())
	first := s.Current()

	second, err := s.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Current().ID != second.ID {
		t.Fatalf("create should make the new session current")
	}

	if err := s.SwitchSession(first.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if s.Current().ID != first.ID {
		t.Errorf("current = %s, want %s", s.Current().ID, first.ID)
	}

	if err := s.SwitchSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("switch to unknown id: expected ErrSessionNotFound, got %v", err)
	}

	// Switching to the current session is a no-op
	if err := s.SwitchSession(first.ID); err != nil {
		t.Errorf("switch to current session: %v", err)
	}
}

func TestDeleteLastSessionRejected(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	if err := s.DeleteSession(s.Current().ID); !errors.Is(err, ErrLastSession) {
		t.Errorf("expected ErrLastSession, got %v", err)
	}
	if got := s.SessionCount(); got != 1 {
		t.Errorf("session count = %d after rejected delete, want 1", got)
	}
}

func TestDeleteCurrentRepoints(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())
	first := s.Current()

	time.Sleep(2 * time.Millisecond)
	second, err := s.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeleteSession(second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Current().ID != first.ID {
		t.Errorf("current = %s after deleting active session, want %s", s.Current().ID, first.ID)
	}

	if err := s.DeleteSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("delete unknown id: expected ErrSessionNotFound, got %v", err)
	}
}

func TestRenameDoesNotAdvanceTimestamp(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())
	sess := s.Current()
	before := sess.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	if err := s.RenameSession(sess.ID, "My Research"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if sess.Title != "My Research" {
		t.Errorf("title = %q, want %q", sess.Title, "My Research")
	}
	if sess.UpdatedAt != before {
		t.Errorf("rename advanced UpdatedAt from %d to %d", before, sess.UpdatedAt)
	}
}

func TestUpdateMessagesTimestampFlag(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())
	sess := s.Current()
	before := sess.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	s.UpdateCurrentMessages([]string{"one"}, false)
	if sess.UpdatedAt != before {
		t.Errorf("re-render advanced UpdatedAt from %d to %d", before, sess.UpdatedAt)
	}

	s.UpdateCurrentMessages([]string{"one", "two"}, true)
	if sess.UpdatedAt <= before {
		t.Errorf("new content should advance UpdatedAt, still %d", sess.UpdatedAt)
	}
}

func TestPersistRoundtrip(t *testing.T) {
	database := openTestDB(t, 1<<20)
	s := newTestStore(t, database, defaultTestOptions())
	sess := s.Current()

	s.UpdateCurrentMessages([]string{"hello", "world"}, true)
	s.AddVersion("m1", "hello", "world")
	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state after persist = %q, want idle", got)
	}

	reloaded := newTestStore(t, database, defaultTestOptions())
	got, err := reloaded.Get(sess.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0] != "hello" {
		t.Errorf("messages did not survive reload: %v", got.Messages)
	}
	if reloaded.VersionHistory("m1")[0].AssistantResponse != "world" {
		t.Errorf("version history did not survive reload")
	}
}

// fillSessions gives every session a payload of the given size without
// triggering an intermediate persist.
func fillSessions(t *testing.T, s *Store, size int) {
	t.Helper()

	payload := strings.Repeat("m", size)
	for _, summary := range s.List() {
		if err := s.SwitchSession(summary.ID); err != nil {
			t.Fatalf("switch: %v", err)
		}
		s.UpdateCurrentMessages([]string{payload}, true)
	}
}

func TestPersistReactiveEviction(t *testing.T) {
	// Store capacity small enough that seven 1 KiB sessions cannot be
	// written, but the post-eviction floor of two can.
	s := newTestStore(t, openTestDB(t, 4096), defaultTestOptions())

	for i := 0; i < 6; i++ {
		if _, err := s.CreateSession(); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	fillSessions(t, s, 1024)

	if err := s.Persist(); err != nil {
		t.Fatalf("persist should succeed after reactive eviction, got %v", err)
	}

	if got := s.SessionCount(); got != 2 {
		t.Errorf("session count = %d after reactive eviction, want floor of 2", got)
	}
	if s.Current() == nil {
		t.Error("current session dangles after eviction")
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestPersistEvictionExhausted(t *testing.T) {
	// One session above capacity: eviction has nothing to give up, so the
	// retry fails and the error wraps ErrEvictionExhausted.
	s := newTestStore(t, openTestDB(t, 1024), defaultTestOptions())

	s.UpdateCurrentMessages([]string{strings.Repeat("m", 4096)}, true)

	err := s.Persist()
	if !errors.Is(err, ErrEvictionExhausted) {
		t.Fatalf("expected ErrEvictionExhausted, got %v", err)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %q after exhausted eviction, want failed", got)
	}

	// In-memory state must survive the failed persist
	if len(s.Current().Messages) != 1 {
		t.Errorf("failed persist lost in-memory messages")
	}
}

func TestPersistPreventiveEviction(t *testing.T) {
	opts := defaultTestOptions()
	opts.QuotaBudgetBytes = 4096 // 1 KiB per session pushes six sessions past critical

	s := newTestStore(t, openTestDB(t, 1<<20), opts)

	for i := 0; i < 5; i++ {
		if _, err := s.CreateSession(); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	fillSessions(t, s, 1024)

	if got := s.Measure().Band; got != BandCritical {
		t.Fatalf("expected critical pressure before persist, got %q", got)
	}

	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if got := s.SessionCount(); got != opts.PreventiveKeep {
		t.Errorf("session count = %d after preventive eviction, want %d", got, opts.PreventiveKeep)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	for i := 0; i < 4; i++ {
		time.Sleep(2 * time.Millisecond)
		if _, err := s.CreateSession(); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	newest := s.Current().ID

	if err := s.PruneSessions(2); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if got := s.SessionCount(); got != 2 {
		t.Fatalf("session count = %d after prune, want 2", got)
	}
	if _, err := s.Get(newest); err != nil {
		t.Errorf("newest session should survive prune: %v", err)
	}
}

func TestPruneBelowCountWipes(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())
	s.UpdateCurrentMessages([]string{"keep me not"}, true)
	old := s.Current().ID

	if err := s.PruneSessions(5); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if got := s.SessionCount(); got != 1 {
		t.Fatalf("wipe should leave exactly 1 fresh session, got %d", got)
	}
	sess := s.Current()
	if sess.ID == old {
		t.Errorf("wipe should replace the old session")
	}
	if len(sess.Messages) != 0 {
		t.Errorf("fresh session should be empty, got %d messages", len(sess.Messages))
	}
}

func TestPruneAtExactCountIsNoop(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	for i := 0; i < 4; i++ {
		if _, err := s.CreateSession(); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	before := make(map[string]bool)
	for _, summary := range s.List() {
		before[summary.ID] = true
	}

	// Keeping the 5 most recent of 5 sessions must change nothing
	if err := s.PruneSessions(5); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if got := s.SessionCount(); got != 5 {
		t.Fatalf("session count = %d after no-op prune, want 5", got)
	}
	for _, summary := range s.List() {
		if !before[summary.ID] {
			t.Errorf("session %s appeared from nowhere", summary.ID)
		}
		delete(before, summary.ID)
	}
	if len(before) != 0 {
		t.Errorf("sessions destroyed by no-op prune: %v", before)
	}
}

func TestListRanksNewestFirst(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	time.Sleep(2 * time.Millisecond)
	second, err := s.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("list[0] = %s, want newest %s", list[0].ID, second.ID)
	}
	if !list[0].Current {
		t.Errorf("newest session should be flagged current")
	}
}

func TestClearCurrentMessages(t *testing.T) {
	s := newTestStore(t, openTestDB(t, 1<<20), defaultTestOptions())

	s.UpdateCurrentMessages([]string{"a", "b"}, true)
	s.AddVersion("m1", "a", "b")
	s.SetAttachedFiles([]AttachedFile{{Name: "pic.png", Type: "image/png"}})

	if err := s.ClearCurrentMessages(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	sess := s.Current()
	if len(sess.Messages) != 0 {
		t.Errorf("messages not cleared: %v", sess.Messages)
	}
	if len(s.VersionHistory("m1")) != 0 {
		t.Errorf("version history not cleared")
	}
	if sess.AttachedFiles != nil {
		t.Errorf("attached files not cleared")
	}
}
