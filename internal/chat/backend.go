package chat

import "context"

// Exchanger is a per-session conversation handle. Stateful implementations
// only need text; stateless ones send the full effective transcript, which
// already ends with the new user turn.
type Exchanger interface {
	Send(ctx context.Context, transcript []Message, text string) (string, error)
}

// Backend is the generative service behind every session.
type Backend interface {
	// StartChat returns a fresh handle seeded with prefix. It must not
	// perform network I/O.
	StartChat(ctx context.Context, prefix []Message) (Exchanger, error)
	Summarizer
}

// Summarizer is the stateless one-shot generation used by the summarize
// history policy.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
