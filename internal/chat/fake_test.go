package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var errBackendDown = errors.New("backend down")

// fakeBackend hands out exchangers that answer "reply-N" and records the
// prefix each chat was started with.
type fakeBackend struct {
	mu        sync.Mutex
	started   [][]Message
	prompts   []string
	replyErr  error
	reply     func(n int, text string) string
	summaryFn func(prompt string) (string, error)

	calls    atomic.Int64
	inFlight atomic.Int64
	overlap  atomic.Bool
}

func (b *fakeBackend) StartChat(ctx context.Context, prefix []Message) (Exchanger, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, cloneMessages(prefix))
	return &fakeExchanger{backend: b, chat: len(b.started)}, nil
}

func (b *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	fn := b.summaryFn
	b.mu.Unlock()
	if fn == nil {
		return "summary", nil
	}
	return fn(prompt)
}

func (b *fakeBackend) startedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.started)
}

func (b *fakeBackend) promptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

type fakeExchanger struct {
	backend *fakeBackend
	chat    int
}

func (e *fakeExchanger) Send(ctx context.Context, transcript []Message, text string) (string, error) {
	_ = ctx
	_ = transcript
	b := e.backend
	if b.inFlight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inFlight.Add(-1)

	n := int(b.calls.Add(1))
	if b.replyErr != nil {
		return "", b.replyErr
	}
	if b.reply != nil {
		return b.reply(n, text), nil
	}
	return fmt.Sprintf("reply-%d", n), nil
}

func prefixOf(n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, UserMessage(fmt.Sprintf("persona-user-%d", i)))
		} else {
			out = append(out, ModelMessage(fmt.Sprintf("persona-model-%d", i)))
		}
	}
	return out
}
