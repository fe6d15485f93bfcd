package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaoyuanzhu-com/my-chat-db/db"
	"github.com/xiaoyuanzhu-com/my-chat-db/history"
	"github.com/xiaoyuanzhu-com/my-chat-db/images"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
)

// sessionsBlobKey is the local_store key holding the serialized collection
const sessionsBlobKey = "chat:sessions"

// PersistState tracks where a persist attempt is in its lifecycle.
// Failed is terminal for one call; the next Persist starts over from Idle.
type PersistState string

const (
	StateIdle        PersistState = "idle"
	StateCompressing PersistState = "compressing"
	StateMeasuring   PersistState = "measuring"
	StateEvicting    PersistState = "evicting"
	StateWriting     PersistState = "writing"
	StateFailed      PersistState = "failed"
)

// Options holds the tuning knobs for a Store. Zero values are replaced
// with the documented defaults.
type Options struct {
	QuotaBudgetBytes      int64
	QuotaWarningFraction  float64
	QuotaCriticalFraction float64
	EvictionFloor         int
	PreventiveKeep        int
	Compressor            *images.Compressor
}

func (o Options) withDefaults() Options {
	if o.QuotaBudgetBytes <= 0 {
		o.QuotaBudgetBytes = 200 * 1024 * 1024
	}
	if o.QuotaWarningFraction <= 0 {
		o.QuotaWarningFraction = 0.50
	}
	if o.QuotaCriticalFraction <= 0 {
		o.QuotaCriticalFraction = 0.80
	}
	if o.EvictionFloor <= 0 {
		o.EvictionFloor = 3
	}
	if o.PreventiveKeep <= 0 {
		o.PreventiveKeep = 5
	}
	if o.Compressor == nil {
		o.Compressor = images.NewCompressor(80, 1024)
	}
	return o
}

// Store is the authoritative in-memory and persisted representation of
// all chat sessions. Every mutation funnels through its methods, and a
// single mutex serializes Persist against concurrent mutate-then-persist
// sequences.
type Store struct {
	mu sync.Mutex

	db         *db.DB
	collection *Collection

	compressor *images.Compressor
	quota      QuotaMonitor
	eviction   EvictionPolicy

	state PersistState
}

var logger = log.GetLogger("Store")

// New creates a Store over the given database handle
func New(database *db.DB, opts Options) *Store {
	opts = opts.withDefaults()

	return &Store{
		db:         database,
		compressor: opts.Compressor,
		quota: QuotaMonitor{
			BudgetBytes:      opts.QuotaBudgetBytes,
			WarningFraction:  opts.QuotaWarningFraction,
			CriticalFraction: opts.QuotaCriticalFraction,
		},
		eviction: EvictionPolicy{
			Floor:          opts.EvictionFloor,
			PreventiveKeep: opts.PreventiveKeep,
		},
		state: StateIdle,
	}
}

// Load reads the durable collection. An empty or missing collection is
// replaced with a single fresh session; otherwise the current pointer is
// set to the most recently updated session.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found, err := s.db.GetBlob(sessionsBlobKey)
	if err != nil {
		return fmt.Errorf("failed to read session blob: %w", err)
	}

	var c Collection
	if found {
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			logger.Error().Err(err).Msg("session blob corrupt, starting fresh")
			c = Collection{}
		}
	}

	if len(c.Sessions) == 0 {
		s.collection = newCollection()
		logger.Info().Str("sessionId", s.collection.CurrentID).Msg("created initial session")
		return s.persistLocked()
	}

	for _, sess := range c.Sessions {
		if sess.Messages == nil {
			sess.Messages = []string{}
		}
		if sess.MessageVersions == nil {
			sess.MessageVersions = history.New()
		}
	}

	c.CurrentID = c.mostRecent().ID
	s.collection = &c

	logger.Info().
		Int("sessions", len(c.Sessions)).
		Str("currentId", c.CurrentID).
		Msg("sessions loaded")
	return nil
}

// ---------- Session operations ----------

// Current returns the active session
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Sessions[s.collection.CurrentID]
}

// Get returns a session by id
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.collection.Sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns summaries of all sessions, most recently updated first
func (s *Store) List() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.eviction.rank(s.collection)
	out := make([]SessionSummary, 0, len(ranked))
	for _, sess := range ranked {
		out = append(out, SessionSummary{
			ID:           sess.ID,
			Title:        sess.Title,
			MessageCount: len(sess.Messages),
			Current:      sess.ID == s.collection.CurrentID,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	return out
}

// CreateSession inserts a new empty session, makes it current, and
// persists the collection.
func (s *Store) CreateSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newSession()
	s.collection.Sessions[sess.ID] = sess
	s.collection.CurrentID = sess.ID

	logger.Info().Str("sessionId", sess.ID).Msg("session created")

	if err := s.persistLocked(); err != nil {
		return sess, err
	}
	return sess, nil
}

// SwitchSession repoints the current-session pointer. Switching to the
// already-current session is a no-op. The change is not persisted here;
// the caller decides when to flush.
func (s *Store) SwitchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.collection.CurrentID {
		return nil
	}
	if _, ok := s.collection.Sessions[id]; !ok {
		return ErrSessionNotFound
	}

	s.collection.CurrentID = id
	return nil
}

// DeleteSession removes a session. Deleting the last remaining session
// is rejected with ErrLastSession; deleting the active session repoints
// the current pointer to a surviving session.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collection.Sessions[id]; !ok {
		return ErrSessionNotFound
	}
	if len(s.collection.Sessions) <= 1 {
		return ErrLastSession
	}

	delete(s.collection.Sessions, id)

	if s.collection.CurrentID == id {
		if survivor := s.collection.mostRecent(); survivor != nil {
			s.collection.CurrentID = survivor.ID
		} else {
			// Defensive: the floor invariant means this cannot happen
			fresh := newSession()
			s.collection.Sessions[fresh.ID] = fresh
			s.collection.CurrentID = fresh.ID
		}
	}

	logger.Info().Str("sessionId", id).Msg("session deleted")
	return s.persistLocked()
}

// RenameSession sets a session's title. A rename is not a new message
// event, so UpdatedAt does not advance; like SwitchSession it leaves
// flushing to the caller.
func (s *Store) RenameSession(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.collection.Sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	sess.Title = title
	return nil
}

// UpdateCurrentMessages replaces the current session's transcript.
// UpdatedAt advances only when advanceTimestamp is true, distinguishing
// new content from a re-render of existing content.
func (s *Store) UpdateCurrentMessages(messages []string, advanceTimestamp bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	sess.Messages = messages
	if advanceTimestamp {
		sess.UpdatedAt = time.Now().UnixMilli()
	}
}

// ClearCurrentMessages resets the current session's transcript, version
// histories and attached files.
func (s *Store) ClearCurrentMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	sess.Messages = []string{}
	sess.MessageVersions = history.New()
	sess.AttachedFiles = nil
	return s.persistLocked()
}

// SetAttachedFiles replaces the current session's attached files
func (s *Store) SetAttachedFiles(files []AttachedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collection.Sessions[s.collection.CurrentID].AttachedFiles = files
}

// PruneSessions is the manual eviction variant: keep only the newest
// keep sessions. A collection already at exactly that count is left
// untouched; below it, the whole collection is wiped and replaced with a
// single fresh session.
func (s *Store) PruneSessions(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.collection.Sessions) > keep:
		evicted := s.eviction.keepTop(s.collection, keep)
		logger.Info().Int("evicted", len(evicted)).Int("keep", keep).Msg("sessions pruned")
	case len(s.collection.Sessions) == keep:
		return nil
	default:
		s.collection = newCollection()
		logger.Info().Str("sessionId", s.collection.CurrentID).Msg("collection wiped, fresh session created")
	}

	return s.persistLocked()
}

// ---------- Version history operations (current session) ----------

// AddVersion appends a revision for a message in the current session
func (s *Store) AddVersion(messageID, userContent, assistantResponse string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	return sess.MessageVersions.Add(messageID, userContent, assistantResponse, time.Now().UnixMilli())
}

// SnapshotThenAddVersion records the currently rendered pair as version 0
// (first edit only), then appends the edited text as a pending revision.
func (s *Store) SnapshotThenAddVersion(messageID, currentUser, currentAssistant, newUser string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	return sess.MessageVersions.SnapshotThenAdd(messageID, currentUser, currentAssistant, newUser, time.Now().UnixMilli())
}

// VersionHistory returns all revisions recorded for a message
func (s *Store) VersionHistory(messageID string) []history.Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	return sess.MessageVersions.Get(messageID)
}

// NavigateVersion moves a message's current-version cursor
func (s *Store) NavigateVersion(messageID string, target int) (history.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	return sess.MessageVersions.Navigate(messageID, target)
}

// PatchVersion fills in the assistant response of a message's newest revision
func (s *Store) PatchVersion(messageID, assistantResponse string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	return sess.MessageVersions.Patch(messageID, assistantResponse)
}

// ClearVersionHistory collapses a message's ledger to its active revision
func (s *Store) ClearVersionHistory(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.collection.Sessions[s.collection.CurrentID]
	sess.MessageVersions.Clear(messageID)
}

// ---------- Quota ----------

// Measure reports current quota usage for the collection
func (s *Store) Measure() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota.Measure(s.collection)
}

// State returns where the last persist attempt ended up
func (s *Store) State() PersistState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionCount returns the number of sessions in the collection
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collection.Sessions)
}

// ---------- Persistence ----------

// Persist writes the collection to the durable store:
// compress inline images, measure, evict preventively if pressure is
// critical, write, and on a capacity failure evict reactively and retry
// exactly once. In-memory state survives a failed persist; only the
// durable copy is at risk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	// Compressing: recompress inline images in place before measuring,
	// so the quota reflects what will actually be written. Compression
	// failures fall back to the original payload and are only logged.
	s.state = StateCompressing
	for _, sess := range s.collection.Sessions {
		for i, fragment := range sess.Messages {
			compressed, changed, err := s.compressor.CompressFragment(fragment)
			if err != nil {
				logger.Warn().Err(err).Str("sessionId", sess.ID).Msg("inline image compression failed, keeping original")
			}
			if changed {
				sess.Messages[i] = compressed
			}
		}
	}

	// Measuring
	s.state = StateMeasuring
	usage := s.quota.Measure(s.collection)

	// Evicting (preventive): only under critical pressure and only while
	// there is something above the floor to give up.
	if usage.Band == BandCritical && len(s.collection.Sessions) > s.eviction.Floor {
		s.state = StateEvicting
		evicted := s.eviction.Preventive(s.collection)
		logger.Warn().
			Int("evicted", len(evicted)).
			Int64("sizeBytes", usage.SizeBytes).
			Float64("percentage", usage.Percentage).
			Msg("preventive eviction")
	}

	// Writing
	s.state = StateWriting
	if err := s.writeCollection(); err != nil {
		if !errors.Is(err, db.ErrCapacityExceeded) {
			s.state = StateFailed
			return fmt.Errorf("failed to write session blob: %w", err)
		}

		// Reactive: drop to the floor and retry exactly once
		s.state = StateEvicting
		evicted := s.eviction.Reactive(s.collection)
		logger.Warn().Int("evicted", len(evicted)).Msg("reactive eviction after failed write")

		s.state = StateWriting
		if err := s.writeCollection(); err != nil {
			s.state = StateFailed
			return fmt.Errorf("%w: %v", ErrEvictionExhausted, err)
		}
	}

	s.state = StateIdle
	return nil
}

func (s *Store) writeCollection() error {
	data, err := json.Marshal(s.collection)
	if err != nil {
		return err
	}
	return s.db.PutBlob(sessionsBlobKey, string(data))
}
