package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type PolicyKind string

const (
	PolicyTruncate  PolicyKind = "truncate"
	PolicySummarize PolicyKind = "summarize"
)

func ParsePolicyKind(s string) (PolicyKind, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyTruncate:
		return PolicyTruncate, nil
	case PolicySummarize, "":
		return PolicySummarize, nil
	}
	return "", fmt.Errorf("unknown history policy: %q", s)
}

const summaryInstruction = "Summarize the following conversation concisely, capturing the key points:\n"

// Policy bounds the session part of a transcript after every append.
type Policy struct {
	Kind       PolicyKind
	MaxHistory int
	// Summarizer is required for PolicySummarize.
	Summarizer Summarizer
}

func (p Policy) validate() error {
	if p.MaxHistory <= 0 {
		return errors.New("chat: max history must be positive")
	}
	switch p.Kind {
	case PolicyTruncate:
	case PolicySummarize:
		if p.Summarizer == nil {
			return errors.New("chat: summarize policy needs a summarizer")
		}
	default:
		return fmt.Errorf("chat: unknown history policy %q", p.Kind)
	}
	return nil
}

type OutcomeKind int

const (
	// Within bound, nothing evicted.
	OutcomeUnchanged OutcomeKind = iota
	OutcomeTruncated
	OutcomeSummarized
	// The summary call failed and the pass truncated instead.
	OutcomeFellBack
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeSummarized:
		return "summarized"
	case OutcomeFellBack:
		return "fell_back"
	}
	return "unknown"
}

// Outcome describes one bounding pass.
type Outcome struct {
	Kind    OutcomeKind
	Evicted int
	// Err is a *SummarizationError when Kind is OutcomeFellBack.
	Err error
}

// Bound applies the policy to msgs and returns the new session slice. The
// input slice is not modified.
func (p Policy) Bound(ctx context.Context, msgs []Message) ([]Message, Outcome) {
	if len(msgs) <= p.MaxHistory {
		return msgs, Outcome{Kind: OutcomeUnchanged}
	}

	split := len(msgs) - p.MaxHistory
	old := msgs[:split]
	recent := cloneMessages(msgs[split:])

	if p.Kind != PolicySummarize {
		return recent, Outcome{Kind: OutcomeTruncated, Evicted: len(old)}
	}

	summary, err := summarize(ctx, p.Summarizer, old)
	if err != nil {
		return recent, Outcome{
			Kind:    OutcomeFellBack,
			Evicted: len(old),
			Err:     &SummarizationError{Evicted: len(old), Err: err},
		}
	}

	out := make([]Message, 0, len(recent)+1)
	out = append(out, Message{Role: RoleSummary, Content: summary})
	out = append(out, recent...)
	return out, Outcome{Kind: OutcomeSummarized, Evicted: len(old)}
}

// SummaryPrompt renders the instruction sent to the one-shot backend call.
func SummaryPrompt(old []Message) string {
	lines := make([]string, 0, len(old))
	for _, m := range old {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return summaryInstruction + strings.Join(lines, "\n")
}

func summarize(ctx context.Context, s Summarizer, old []Message) (string, error) {
	text, err := s.Generate(ctx, SummaryPrompt(old))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
