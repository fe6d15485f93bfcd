package chat

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xiaoyuanzhu-com/my-chat-db/config"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
	"github.com/xiaoyuanzhu-com/my-chat-db/store"
)

// Turn is one prior exchange handed to the model as context
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request carries everything the outbound chat API consumes
type Request struct {
	Message      string
	Model        string
	Context      string
	Tools        []string
	DeepThinking bool
	History      []Turn
	Files        []store.AttachedFile
	MemoryIDs    []string
	Language     string
	CustomPrompt string
}

// Result is the outbound chat API's answer
type Result struct {
	Response        string
	ThinkingProcess string
}

// Completer is the interface to the remote chat-completion API. The
// context carries cancellation; a cancelled request surfaces as
// context.Canceled, which callers treat as a stop, not a failure.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

var llmLogger = log.GetLogger("LLM")

// OpenAIClient implements Completer over the OpenAI chat completions API
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from configuration. Returns nil when no
// API key is configured; callers treat a nil Completer as chat disabled.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	if cfg.OpenAIAPIKey == "" {
		llmLogger.Warn().Msg("OPENAI_API_KEY not configured, chat disabled")
		return nil
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" && cfg.OpenAIBaseURL != "https://api.openai.com/v1" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	llmLogger.Info().Str("model", cfg.OpenAIModel).Str("baseURL", cfg.OpenAIBaseURL).Msg("OpenAI initialized")

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.OpenAIModel,
	}
}

// Complete performs a chat completion
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []openai.ChatCompletionMessage

	if system := buildSystemPrompt(req); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	messages = append(messages, buildUserMessage(req))

	completionReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
	}

	llmLogger.Info().
		Str("model", model).
		Int("messageCount", len(messages)).
		Int("fileCount", len(req.Files)).
		Bool("deepThinking", req.DeepThinking).
		Msg("chat completion request")

	resp, err := c.client.CreateChatCompletion(ctx, completionReq)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return &Result{}, nil
	}

	choice := resp.Choices[0]

	llmLogger.Info().
		Str("finishReason", string(choice.FinishReason)).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Msg("chat completion response")

	return &Result{
		Response:        choice.Message.Content,
		ThinkingProcess: choice.Message.ReasoningContent,
	}, nil
}

// buildSystemPrompt assembles the system message from the request's
// custom prompt, language preference and thinking mode.
func buildSystemPrompt(req Request) string {
	var parts []string

	if req.CustomPrompt != "" {
		parts = append(parts, req.CustomPrompt)
	}
	if req.Context != "" {
		parts = append(parts, "Context:\n"+req.Context)
	}
	if len(req.MemoryIDs) > 0 {
		parts = append(parts, "Relevant memory ids: "+strings.Join(req.MemoryIDs, ", "))
	}
	if req.Language != "" {
		parts = append(parts, "Respond in "+req.Language+".")
	}
	if req.DeepThinking {
		parts = append(parts, "Think through the problem step by step before answering.")
	}
	if len(req.Tools) > 0 {
		parts = append(parts, "Available tools: "+strings.Join(req.Tools, ", "))
	}

	return strings.Join(parts, "\n\n")
}

// buildUserMessage builds the final user message, attaching inline image
// files as image parts and other files as name references.
func buildUserMessage(req Request) openai.ChatCompletionMessage {
	images := make([]store.AttachedFile, 0)
	var names []string
	for _, f := range req.Files {
		if strings.HasPrefix(f.Type, "image/") && f.Content != "" {
			images = append(images, f)
		} else if f.Name != "" {
			names = append(names, f.Name)
		}
	}

	text := req.Message
	if len(names) > 0 {
		text += "\n\nAttached files: " + strings.Join(names, ", ")
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		}
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: text},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: img.Content,
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}
