package ai

import (
	"context"
)

// Roles accepted in a conversation
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// LLM is the generation backend. Implementations must route every request through
// the outbound guard.
type LLM interface {
	// Complete runs a chat completion. With jsonMode the backend is asked for a JSON object.
	Complete(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error)

	// Speech synthesizes input into MP3 audio
	Speech(ctx context.Context, input string) ([]byte, error)
}
