package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/my-chat-db/history"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
	"github.com/xiaoyuanzhu-com/my-chat-db/notifications"
	"github.com/xiaoyuanzhu-com/my-chat-db/store"
)

var (
	// ErrChatDisabled means no completion backend is configured
	ErrChatDisabled = errors.New("chat is disabled, no API key configured")

	// ErrMessageNotFound means the transcript has no fragment for the message id
	ErrMessageNotFound = errors.New("message not found in current session")
)

// StoppedText is the assistant content recorded for a stopped generation
const StoppedText = "(stopped)"

// maxTitleLength bounds titles auto-derived from the first message
const maxTitleLength = 50

var logger = log.GetLogger("Chat")

// SendOptions carries the per-turn knobs forwarded to the model
type SendOptions struct {
	Model        string               `json:"model,omitempty"`
	Context      string               `json:"context,omitempty"`
	Tools        []string             `json:"tools,omitempty"`
	DeepThinking bool                 `json:"deepThinking,omitempty"`
	Files        []store.AttachedFile `json:"files,omitempty"`
	MemoryIDs    []string             `json:"memoryIds,omitempty"`
	Language     string               `json:"language,omitempty"`
	CustomPrompt string               `json:"customPrompt,omitempty"`
}

// TurnResult is what a completed (or stopped) turn hands back to the API
type TurnResult struct {
	MessageID       string `json:"messageId"`
	Response        string `json:"response"`
	ThinkingProcess string `json:"thinkingProcess,omitempty"`
	Stopped         bool   `json:"stopped"`
}

// Controller orchestrates chat turns: it owns the transcript shape inside
// the store, drives the completion backend, and records version history
// for edits and regenerations. One generation runs at a time; Stop cancels
// the in-flight one.
type Controller struct {
	store *store.Store
	llm   Completer
	notif *notifications.Service

	mu             sync.Mutex
	cancelInflight context.CancelFunc
}

// NewController wires a controller over the store and completion backend.
// llm may be nil, in which case every turn fails with ErrChatDisabled.
func NewController(st *store.Store, llm Completer, notif *notifications.Service) *Controller {
	return &Controller{
		store: st,
		llm:   llm,
		notif: notif,
	}
}

// Enabled reports whether a completion backend is configured
func (c *Controller) Enabled() bool {
	return c.llm != nil
}

// Stop cancels the in-flight generation, if any. The cancelled turn
// finishes on its own goroutine: the pending version is patched with the
// stopped marker and the turn resolves as stopped, not failed.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelInflight != nil {
		c.cancelInflight()
	}
}

// beginTurn derives a cancellable context for one generation and registers
// its cancel func so Stop can reach it.
func (c *Controller) beginTurn(ctx context.Context) (context.Context, func()) {
	turnCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancelInflight = cancel
	c.mu.Unlock()

	return turnCtx, func() {
		cancel()
		c.mu.Lock()
		c.cancelInflight = nil
		c.mu.Unlock()
	}
}

// Send runs one chat turn: append the user message, call the model, append
// the assistant reply, and flush the collection. The first message of a
// fresh session also titles it.
func (c *Controller) Send(ctx context.Context, text string, opts SendOptions) (*TurnResult, error) {
	if c.llm == nil {
		return nil, ErrChatDisabled
	}

	sess := c.store.Current()
	messageID := uuid.New().String()

	if len(opts.Files) > 0 {
		c.store.SetAttachedFiles(opts.Files)
	}

	turnCtx, done := c.beginTurn(ctx)
	defer done()

	result, err := c.llm.Complete(turnCtx, Request{
		Message:      text,
		Model:        opts.Model,
		Context:      opts.Context,
		Tools:        opts.Tools,
		DeepThinking: opts.DeepThinking,
		History:      transcriptTurns(sess.Messages),
		Files:        opts.Files,
		MemoryIDs:    opts.MemoryIDs,
		Language:     opts.Language,
		CustomPrompt: opts.CustomPrompt,
	})

	turn := &TurnResult{MessageID: messageID}
	switch {
	case err == nil:
		turn.Response = result.Response
		turn.ThinkingProcess = result.ThinkingProcess
	case errors.Is(err, context.Canceled):
		turn.Response = StoppedText
		turn.Stopped = true
		logger.Info().Str("messageId", messageID).Msg("generation stopped")
	default:
		return nil, err
	}

	messages := append(append([]string{}, sess.Messages...),
		encodeFragment(Fragment{MessageID: messageID, Role: "user", Content: text}),
		encodeFragment(Fragment{MessageID: messageID, Role: "assistant", Content: turn.Response}),
	)
	c.store.UpdateCurrentMessages(messages, true)

	if sess.Title == store.DefaultTitle {
		if err := c.store.RenameSession(sess.ID, deriveTitle(text)); err != nil {
			logger.Warn().Err(err).Str("sessionId", sess.ID).Msg("auto-title failed")
		}
	}

	if err := c.store.Persist(); err != nil {
		return nil, err
	}

	c.notifyTurn(sess.ID, messageID, turn.Stopped)
	return turn, nil
}

// Edit replaces the user half of an exchange and regenerates the assistant
// half. The pre-edit pair is snapshotted as version 0 on the first edit,
// and the edit itself is appended as the newest version.
func (c *Controller) Edit(ctx context.Context, messageID, newText string, opts SendOptions) (*TurnResult, error) {
	return c.revise(ctx, messageID, newText, opts)
}

// Regenerate re-runs the assistant half of an exchange with the user text
// unchanged. Like an edit, the result lands as a new version.
func (c *Controller) Regenerate(ctx context.Context, messageID string, opts SendOptions) (*TurnResult, error) {
	sess := c.store.Current()
	userIdx, _ := fragmentPair(sess.Messages, messageID)
	if userIdx == -1 {
		return nil, ErrMessageNotFound
	}

	f, _ := decodeFragment(sess.Messages[userIdx])
	return c.revise(ctx, messageID, f.Content, opts)
}

// revise is the shared edit/regenerate path
func (c *Controller) revise(ctx context.Context, messageID, newText string, opts SendOptions) (*TurnResult, error) {
	if c.llm == nil {
		return nil, ErrChatDisabled
	}

	sess := c.store.Current()
	userIdx, assistantIdx := fragmentPair(sess.Messages, messageID)
	if userIdx == -1 {
		return nil, ErrMessageNotFound
	}

	currentUser, _ := decodeFragment(sess.Messages[userIdx])
	currentAssistant := ""
	if assistantIdx != -1 {
		f, _ := decodeFragment(sess.Messages[assistantIdx])
		currentAssistant = f.Content
	}

	c.store.SnapshotThenAddVersion(messageID, currentUser.Content, currentAssistant, newText)

	// Render the pending revision: new user text, empty assistant slot
	messages := append([]string{}, sess.Messages...)
	messages[userIdx] = encodeFragment(Fragment{MessageID: messageID, Role: "user", Content: newText})
	if assistantIdx == -1 {
		messages = append(messages, "")
		copy(messages[userIdx+2:], messages[userIdx+1:])
		assistantIdx = userIdx + 1
	}
	messages[assistantIdx] = encodeFragment(Fragment{MessageID: messageID, Role: "assistant", Content: ""})
	c.store.UpdateCurrentMessages(messages, true)

	turnCtx, done := c.beginTurn(ctx)
	defer done()

	result, err := c.llm.Complete(turnCtx, Request{
		Message:      newText,
		Model:        opts.Model,
		Context:      opts.Context,
		Tools:        opts.Tools,
		DeepThinking: opts.DeepThinking,
		History:      transcriptTurns(messages[:userIdx]),
		MemoryIDs:    opts.MemoryIDs,
		Language:     opts.Language,
		CustomPrompt: opts.CustomPrompt,
	})

	turn := &TurnResult{MessageID: messageID}
	switch {
	case err == nil:
		turn.Response = result.Response
		turn.ThinkingProcess = result.ThinkingProcess
	case errors.Is(err, context.Canceled):
		turn.Response = StoppedText
		turn.Stopped = true
		logger.Info().Str("messageId", messageID).Msg("revision stopped")
	default:
		// The pending version stays empty; flush what we have and surface
		// the API failure.
		if perr := c.store.Persist(); perr != nil {
			logger.Error().Err(perr).Msg("persist after failed completion")
		}
		return nil, err
	}

	if err := c.store.PatchVersion(messageID, turn.Response); err != nil {
		return nil, err
	}
	messages[assistantIdx] = encodeFragment(Fragment{MessageID: messageID, Role: "assistant", Content: turn.Response})
	c.store.UpdateCurrentMessages(messages, true)

	if err := c.store.Persist(); err != nil {
		return nil, err
	}

	c.notifyTurn(sess.ID, messageID, turn.Stopped)
	return turn, nil
}

// Navigate moves a message's version cursor and re-renders the selected
// revision into the transcript. Browsing old revisions is not new content,
// so the session timestamp does not advance.
func (c *Controller) Navigate(messageID string, target int) (*history.Version, error) {
	v, err := c.store.NavigateVersion(messageID, target)
	if err != nil {
		return nil, err
	}

	sess := c.store.Current()
	userIdx, assistantIdx := fragmentPair(sess.Messages, messageID)
	if userIdx == -1 {
		return nil, ErrMessageNotFound
	}

	messages := append([]string{}, sess.Messages...)
	messages[userIdx] = encodeFragment(Fragment{MessageID: messageID, Role: "user", Content: v.UserContent})
	if assistantIdx != -1 {
		messages[assistantIdx] = encodeFragment(Fragment{MessageID: messageID, Role: "assistant", Content: v.AssistantResponse})
	}
	c.store.UpdateCurrentMessages(messages, false)

	if err := c.store.Persist(); err != nil {
		return nil, err
	}

	c.notif.NotifySessionChanged(sess.ID, "navigate")
	return &v, nil
}

// History returns a message's recorded revisions
func (c *Controller) History(messageID string) []history.Version {
	return c.store.VersionHistory(messageID)
}

// ClearHistory collapses a message's version ledger to its active revision
func (c *Controller) ClearHistory(messageID string) error {
	c.store.ClearVersionHistory(messageID)
	return c.store.Persist()
}

func (c *Controller) notifyTurn(sessionID, messageID string, stopped bool) {
	c.notif.NotifySessionChanged(sessionID, "message")
	c.notif.NotifyQuotaChanged(c.store.Measure())
	c.notif.NotifyChatDone(sessionID, messageID, stopped)
}

// transcriptTurns decodes the stored transcript into model context,
// skipping anything undecodable.
func transcriptTurns(messages []string) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, raw := range messages {
		f, ok := decodeFragment(raw)
		if !ok || f.Content == "" {
			continue
		}
		turns = append(turns, Turn{Role: f.Role, Content: f.Content})
	}
	return turns
}

// deriveTitle makes a session title out of the first user message
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return store.DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}
