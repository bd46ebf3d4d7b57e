package llm

import "time"

// Role is who spoke a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Director and research state keep their
// transcripts as []Message, so the JSON form is also the checkpoint form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// CompletionRequest is a full Messages API call. Zero Model and MaxTokens
// use the client's defaults.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Model        string
	MaxTokens    int
	Temperature  *float64
}

// CompletionResponse is the text of a completion plus accounting.
type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        TokenUsage
	// Duration covers every attempt, backoff included.
	Duration time.Duration
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Wire types for the Anthropic Messages API.
type (
	messagesRequest struct {
		Model       string    `json:"model"`
		MaxTokens   int       `json:"max_tokens"`
		System      string    `json:"system,omitempty"`
		Messages    []Message `json:"messages"`
		Temperature *float64  `json:"temperature,omitempty"`
	}

	contentBlock struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	messagesResponse struct {
		Content    []contentBlock `json:"content"`
		Model      string         `json:"model"`
		StopReason string         `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	errorResponse struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
)
