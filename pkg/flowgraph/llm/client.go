// Package llm provides the text completion client used by workflow nodes.
//
// Nodes depend on the Client interface only. AnthropicClient talks to the
// Anthropic Messages API over HTTP; MockClient scripts responses for tests.
package llm

import "context"

// Client performs a synchronous text completion.
//
// Implementations report provider throttling as an *Error with
// RateLimited set, so callers can retry it with backoff. Every other
// failure is fatal to the caller.
type Client interface {
	Invoke(ctx context.Context, system string, messages []Message) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, system string, messages []Message) (string, error)

// Invoke implements Client.
func (f ClientFunc) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	return f(ctx, system, messages)
}
