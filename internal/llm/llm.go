// Package llm provides chat completion clients for the generator and validator.
//
// Every provider implements Client. Requests carry an optional system prompt, a
// conversation and images attached to the final user turn so the validator can show
// the rendered diagram to vision-capable models.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNoAPIKey        = errors.New("llm: api key required")
	ErrEmptyResponse   = errors.New("llm: empty response")
	ErrUnknownProvider = errors.New("llm: unknown provider")
	ErrNoMessages      = errors.New("llm: request has no messages")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image is binary image data attached to the last user message.
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// Request is a single completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Images      []Image
	Temperature float64
	MaxTokens   int
}

// Validate checks that the request can be sent.
func (r *Request) Validate() error {
	if r == nil || len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if r.Messages[len(r.Messages)-1].Role != RoleUser {
		return fmt.Errorf("llm: last message must be from the user, got %q", r.Messages[len(r.Messages)-1].Role)
	}
	return nil
}

// Client completes a conversation and returns the assistant's text.
type Client interface {
	Complete(ctx context.Context, req *Request) (string, error)
	Name() string
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, prompt string) *Request {
	return &Request{System: system, Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
