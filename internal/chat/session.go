package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Session couples a transcript with its own backend handle. SendTurn and
// Reset are serialized per session; Transcript reads never wait on the
// backend.
type Session struct {
	id      string
	backend Backend
	timeout time.Duration

	// turnMu is held for a whole exchange and for Reset.
	turnMu     sync.Mutex
	transcript *Transcript
	handle     Exchanger
}

type SessionOptions struct {
	Prefix []Message
	Policy Policy
	// Timeout bounds each backend call. Zero means no extra deadline.
	Timeout time.Duration
}

func NewSession(ctx context.Context, id string, backend Backend, opts SessionOptions) (*Session, error) {
	tr, err := NewTranscript(opts.Prefix, opts.Policy)
	if err != nil {
		return nil, err
	}
	handle, err := backend.StartChat(ctx, tr.Prefix())
	if err != nil {
		return nil, fmt.Errorf("chat: start backend chat: %w", err)
	}
	return &Session{
		id:         id,
		backend:    backend,
		timeout:    opts.Timeout,
		transcript: tr,
		handle:     handle,
	}, nil
}

func (s *Session) ID() string { return s.id }

// SendTurn records the user turn, asks the backend for a reply and records
// it. On backend failure the user turn stays in the transcript and a
// *BackendError is returned.
func (s *Session) SendTurn(ctx context.Context, text string) (string, error) {
	if err := ValidateUserText(text); err != nil {
		return "", err
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.bound(ctx, UserMessage(text))

	callCtx, cancel := s.backendContext(ctx)
	defer cancel()

	reply, err := s.handle.Send(callCtx, s.transcript.Effective(), text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		log.Printf("[chat] exchange failed session=%s err=%v", s.id, err)
		return "", &BackendError{SessionID: s.id, Err: err}
	}

	s.bound(ctx, ModelMessage(reply))
	return reply, nil
}

func (s *Session) bound(ctx context.Context, msg Message) {
	callCtx, cancel := s.backendContext(ctx)
	defer cancel()

	out := s.transcript.Append(callCtx, msg)
	switch out.Kind {
	case OutcomeFellBack:
		log.Printf("[chat] summarization failed, truncated instead session=%s evicted=%d err=%v", s.id, out.Evicted, out.Err)
	case OutcomeSummarized:
		log.Printf("[chat] summarized history session=%s evicted=%d", s.id, out.Evicted)
	}
}

func (s *Session) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Reset clears the session messages and replaces the backend handle with a
// fresh one seeded with the prefix. Calling it repeatedly is harmless.
func (s *Session) Reset(ctx context.Context) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	handle, err := s.backend.StartChat(ctx, s.transcript.Prefix())
	if err != nil {
		return fmt.Errorf("chat: restart backend chat: %w", err)
	}
	s.transcript.Clear()
	s.handle = handle
	return nil
}

// Transcript returns the effective transcript, oldest first.
func (s *Session) Transcript() []Message {
	return s.transcript.Effective()
}

func (s *Session) Prefix() []Message { return s.transcript.Prefix() }

func (s *Session) SessionMessages() []Message { return s.transcript.SessionMessages() }
