package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/my-chat-db/history"
)

// DefaultTitle is the title given to a freshly created session until the
// first user message renames it.
const DefaultTitle = "New Chat"

// AttachedFile is a file-metadata record scoped to a session
type AttachedFile struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Content string `json:"content,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Session is one chat conversation's durable state. Messages are opaque
// serialized fragments produced by the renderer; the store never parses
// them beyond scanning for inline images. Version histories are embedded
// so they live and die with the session.
type Session struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Messages        []string        `json:"messages"`
	AttachedFiles   []AttachedFile  `json:"attachedFiles,omitempty"`
	MessageVersions history.History `json:"messageVersions,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	UpdatedAt       int64           `json:"updatedAt"`
}

// Collection holds every session plus the current-session pointer.
// Invariant: Sessions is never empty and CurrentID always names a key in it.
type Collection struct {
	Sessions  map[string]*Session `json:"sessions"`
	CurrentID string              `json:"currentSessionId"`
}

// newSession creates an empty session with fresh timestamps
func newSession() *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:              uuid.New().String(),
		Title:           DefaultTitle,
		Messages:        []string{},
		MessageVersions: history.New(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// newCollection creates a collection seeded with one fresh session
func newCollection() *Collection {
	s := newSession()
	return &Collection{
		Sessions:  map[string]*Session{s.ID: s},
		CurrentID: s.ID,
	}
}

// mostRecent returns the session with the newest UpdatedAt, ties broken
// by CreatedAt then id for determinism.
func (c *Collection) mostRecent() *Session {
	var best *Session
	for _, s := range c.Sessions {
		if best == nil || newer(s, best) {
			best = s
		}
	}
	return best
}

// newer reports whether a ranks above b (more recently updated first)
func newer(a, b *Session) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// SessionSummary is the listing shape exposed to the API
type SessionSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"messageCount"`
	Current      bool   `json:"current"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}
