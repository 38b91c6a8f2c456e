// Package ir defines the canonical intermediate representation that every
// public dialect (OpenAI, Anthropic, Google) is translated into and out of.
// Translators are pure functions over these types; nothing in this package
// knows about HTTP, upstream credentials, or any specific wire format.
package ir

import "encoding/json"

// Role identifies the speaker of a Message in the canonical representation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentType tags the variant held by a ContentPart.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
	ContentTypeReasoning  ContentType = "thinking"
)

// ContentPart is a tagged variant of the content kinds a message can carry.
// Only the fields relevant to Type are populated; the rest are zero.
type ContentPart struct {
	Type ContentType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`

	// tool_use
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`

	// tool_result
	ToolResultForID string        `json:"tool_result_for_id,omitempty"`
	ToolResult      []ContentPart `json:"tool_result,omitempty"`
	IsError         bool          `json:"is_error,omitempty"`

	// thinking (Claude); on Gemini this is folded into the ToolCall that
	// follows it rather than carried as its own part, see ThoughtSignature.
	Reasoning        string `json:"thinking,omitempty"`
	ThoughtSignature string `json:"signature,omitempty"`
}

// Message is one turn in the canonical conversation.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// ToolCall is the canonical shape of a model-issued function invocation,
// used both inside streaming events and when building a final response.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`

	// ThoughtSignature carries the opaque reasoning signature bound to this
	// call (Gemini family attaches it to the functionCall part directly).
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ToolDefinition declares a tool a client has made available to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ThinkingConfig controls extended-thinking / reasoning behavior.
type ThinkingConfig struct {
	Budget          int  `json:"budget,omitempty"`
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
}

// FunctionCallingConfig mirrors Anthropic's tool_choice / Gemini's
// toolConfig.functionCallingConfig in a dialect-neutral shape.
type FunctionCallingConfig struct {
	Mode         string   `json:"mode,omitempty"` // "auto" | "any" | "none" | "tool"
	AllowedNames []string `json:"allowed_names,omitempty"`
}

// ImageConfig carries image-generation request parameters.
type ImageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
}

// ImagePart is inline image data surfaced in a response (image generation).
type ImagePart struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Usage carries token accounting, unified across dialects.
type Usage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	ThoughtsTokenCount      int `json:"thoughts_token_count,omitempty"`
	CachedContentTokenCount int `json:"cached_content_token_count,omitempty"`
}

// FinishReason is the canonical completion reason.
type FinishReason string

const (
	FinishReasonUnknown       FinishReason = ""
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// ResponseMeta carries upstream-native metadata worth preserving when the
// target dialect has a vendor-extension slot for it (e.g. OpenAI's
// reasoning_content, or exposing the native Gemini finish reason).
type ResponseMeta struct {
	ResponseID         string `json:"response_id,omitempty"`
	CreateTime         int64  `json:"create_time,omitempty"`
	NativeFinishReason string `json:"native_finish_reason,omitempty"`
}

// OpenAIMeta is ResponseMeta plus the fields the OpenAI-compat layer needs
// when rendering a non-streaming chat completion from a Gemini response.
type OpenAIMeta struct {
	ResponseID         string `json:"response_id,omitempty"`
	CreateTime         int64  `json:"create_time,omitempty"`
	NativeFinishReason string `json:"native_finish_reason,omitempty"`
	ThoughtsTokenCount int    `json:"thoughts_token_count,omitempty"`
}

// EventType tags a UnifiedEvent streamed during response translation.
type EventType string

const (
	EventTypeToken     EventType = "token"
	EventTypeReasoning EventType = "reasoning"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeImage     EventType = "image"
	EventTypeFinish    EventType = "finish"
	EventTypeError     EventType = "error"
)

// UnifiedEvent is one unit of a streaming response in canonical form.
// Exactly one of Content/Reasoning/ToolCall/Image/Err is meaningful,
// selected by Type.
type UnifiedEvent struct {
	Type         EventType
	Content      string
	Reasoning    string
	ToolCall     *ToolCall
	Image        *ImagePart
	FinishReason FinishReason
	Usage        *Usage
	Err          error
	Meta         *ResponseMeta
}

// UnifiedChatRequest is the canonical request shape produced by every to_ir
// parser and consumed by every from_ir converter.
type UnifiedChatRequest struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`

	Tools           []ToolDefinition       `json:"tools,omitempty"`
	FunctionCalling *FunctionCallingConfig `json:"function_calling,omitempty"`

	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
	ImageConfig *ImageConfig    `json:"image_config,omitempty"`

	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`

	// Metadata carries gateway-internal routing data (session_id, project_id,
	// request_id, user_agent, request_type) set by the caller, not the client.
	Metadata map[string]any `json:"-"`
}
