package chat

import (
	"context"
	"sync"
)

// Transcript is a fixed prefix followed by a bounded, growing session part.
// The prefix is never evicted and never counted against the bound.
type Transcript struct {
	mu       sync.RWMutex
	prefix   []Message
	messages []Message
	policy   Policy
}

func NewTranscript(prefix []Message, policy Policy) (*Transcript, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Transcript{
		prefix:   cloneMessages(prefix),
		messages: []Message{},
		policy:   policy,
	}, nil
}

// Append adds msg and runs one bounding pass. The new state is published
// only after bounding, so readers never observe an over-long transcript.
// Bounding may call the summarizer; readers are not blocked while it runs.
// Callers must serialize Append and Clear themselves.
func (t *Transcript) Append(ctx context.Context, msg Message) Outcome {
	t.mu.RLock()
	grown := make([]Message, len(t.messages), len(t.messages)+1)
	copy(grown, t.messages)
	t.mu.RUnlock()
	grown = append(grown, msg)

	bounded, out := t.policy.Bound(ctx, grown)

	t.mu.Lock()
	t.messages = bounded
	t.mu.Unlock()
	return out
}

// Clear drops every session message. The prefix is kept.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = []Message{}
}

// Effective returns prefix followed by session messages.
func (t *Transcript) Effective() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, 0, len(t.prefix)+len(t.messages))
	out = append(out, t.prefix...)
	return append(out, t.messages...)
}

func (t *Transcript) Prefix() []Message {
	return cloneMessages(t.prefix)
}

func (t *Transcript) SessionMessages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.messages)
}

func (t *Transcript) Policy() Policy { return t.policy }
