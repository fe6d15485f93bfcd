package notifications

import (
	"sync"
	"time"
)

// EventType represents the type of notification event
type EventType string

const (
	EventConnected      EventType = "connected"
	EventSessionChanged EventType = "session-changed"
	EventQuotaChanged   EventType = "quota-changed"
	EventChatDone       EventType = "chat-done"
)

// Event represents a notification event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Service manages SSE/WebSocket subscriptions and event broadcasting
type Service struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	done        chan struct{}
}

// NewService creates a new notification service
func NewService() *Service {
	return &Service{
		subscribers: make(map[chan Event]struct{}),
		done:        make(chan struct{}),
	}
}

// Subscribe creates a new subscription channel.
// Returns the event channel and an unsubscribe function.
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 10)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only close if the channel is still in subscribers map
		if _, exists := s.subscribers[ch]; exists {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Notify broadcasts an event to all subscribers
func (s *Service) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// NotifySessionChanged sends a session-changed event.
// Used when a session is created, deleted, renamed, switched, evicted,
// or receives new messages.
func (s *Service) NotifySessionChanged(sessionID string, operation string) {
	s.Notify(Event{
		Type:      EventSessionChanged,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"sessionId": sessionID,
			"operation": operation,
		},
	})
}

// NotifyQuotaChanged sends a quota-changed event with current usage
func (s *Service) NotifyQuotaChanged(usage any) {
	s.Notify(Event{
		Type:      EventQuotaChanged,
		Timestamp: time.Now().UnixMilli(),
		Data:      usage,
	})
}

// NotifyChatDone sends a chat-done event when a turn completes
func (s *Service) NotifyChatDone(sessionID, messageID string, stopped bool) {
	s.Notify(Event{
		Type:      EventChatDone,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]interface{}{
			"sessionId": sessionID,
			"messageId": messageID,
			"stopped":   stopped,
		},
	})
}

// Shutdown closes the notification service
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.done)

	// Close all subscriber channels
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

// SubscriberCount returns the number of active subscribers
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
