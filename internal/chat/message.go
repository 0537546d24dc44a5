package chat

import "strings"

type Role string

const (
	RoleUser    Role = "user"
	RoleModel   Role = "model"
	RoleSystem  Role = "system"
	RoleSummary Role = "summary"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem, RoleSummary:
		return true
	}
	return false
}

// Message is one turn of a transcript. Messages are passed and stored by
// value and never modified after construction.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(text string) Message  { return Message{Role: RoleUser, Content: text} }
func ModelMessage(text string) Message { return Message{Role: RoleModel, Content: text} }

// ValidateUserText rejects input that would produce an empty user turn.
func ValidateUserText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrValidation
	}
	return nil
}

func cloneMessages(in []Message) []Message {
	if len(in) == 0 {
		return []Message{}
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
