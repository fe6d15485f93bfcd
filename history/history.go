package history

import (
	"errors"
)

var (
	// ErrIndexOutOfRange is returned by Navigate for a target outside [0, len)
	ErrIndexOutOfRange = errors.New("version index out of range")

	// ErrNoVersions is returned when patching a message that has no recorded versions
	ErrNoVersions = errors.New("message has no recorded versions")
)

// Version is one historical revision of a message pair: the user-authored
// text and the assistant response it produced. AssistantResponse is empty
// while a regeneration is still pending.
type Version struct {
	UserContent       string `json:"userContent"`
	AssistantResponse string `json:"assistantResponse"`
	Timestamp         int64  `json:"timestamp"`
}

// MessageHistory is the ordered ledger of revisions for a single message,
// oldest first, plus the index of the revision currently shown.
type MessageHistory struct {
	CurrentIndex int       `json:"currentIndex"`
	Versions     []Version `json:"versions"`
}

// History maps message ids to their revision ledgers. It is embedded in a
// Session and serialized with it, so deleting or evicting a session can
// never leave orphaned version entries behind.
type History map[string]*MessageHistory

// New returns an empty history
func New() History {
	return make(History)
}

// Add appends a new version for the message and makes it current.
// Returns the index of the appended version.
func (h History) Add(messageID, userContent, assistantResponse string, timestamp int64) int {
	mh, ok := h[messageID]
	if !ok {
		mh = &MessageHistory{}
		h[messageID] = mh
	}

	mh.Versions = append(mh.Versions, Version{
		UserContent:       userContent,
		AssistantResponse: assistantResponse,
		Timestamp:         timestamp,
	})
	mh.CurrentIndex = len(mh.Versions) - 1
	return mh.CurrentIndex
}

// SnapshotThenAdd implements first-edit semantics: if the message has no
// recorded versions yet, the currently rendered pair is captured as
// version 0 before the edited text is appended as a new pending version.
// Returns the index of the pending version.
func (h History) SnapshotThenAdd(messageID, currentUser, currentAssistant, newUser string, timestamp int64) int {
	if h.Len(messageID) == 0 {
		h.Add(messageID, currentUser, currentAssistant, timestamp)
	}
	return h.Add(messageID, newUser, "", timestamp)
}

// Get returns the recorded versions for a message, oldest first.
// The returned slice is a copy; an unrecorded message yields an empty slice.
func (h History) Get(messageID string) []Version {
	mh, ok := h[messageID]
	if !ok {
		return []Version{}
	}
	out := make([]Version, len(mh.Versions))
	copy(out, mh.Versions)
	return out
}

// Len returns the number of recorded versions for a message
func (h History) Len(messageID string) int {
	mh, ok := h[messageID]
	if !ok {
		return 0
	}
	return len(mh.Versions)
}

// CurrentIndex returns the index of the currently shown version
func (h History) CurrentIndex(messageID string) (int, bool) {
	mh, ok := h[messageID]
	if !ok {
		return 0, false
	}
	return mh.CurrentIndex, true
}

// Current returns the currently shown version for a message
func (h History) Current(messageID string) (Version, bool) {
	mh, ok := h[messageID]
	if !ok || len(mh.Versions) == 0 {
		return Version{}, false
	}
	return mh.Versions[mh.CurrentIndex], true
}

// Navigate moves the current index to target and returns that version.
// A target outside [0, len) fails with ErrIndexOutOfRange and changes
// nothing.
func (h History) Navigate(messageID string, target int) (Version, error) {
	mh, ok := h[messageID]
	if !ok || target < 0 || target >= len(mh.Versions) {
		return Version{}, ErrIndexOutOfRange
	}

	mh.CurrentIndex = target
	return mh.Versions[target], nil
}

// Patch fills in the assistant response of the newest version. Only the
// most recent entry is mutable, and only this one field; everything older
// is immutable history.
func (h History) Patch(messageID, assistantResponse string) error {
	mh, ok := h[messageID]
	if !ok || len(mh.Versions) == 0 {
		return ErrNoVersions
	}

	mh.Versions[len(mh.Versions)-1].AssistantResponse = assistantResponse
	return nil
}

// Clear collapses a message's ledger to a single entry equal to the
// currently active version. Unrecorded messages are a no-op.
func (h History) Clear(messageID string) {
	mh, ok := h[messageID]
	if !ok || len(mh.Versions) == 0 {
		return
	}

	active := mh.Versions[mh.CurrentIndex]
	mh.Versions = []Version{active}
	mh.CurrentIndex = 0
}
