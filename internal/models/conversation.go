package models

import "strings"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
)

// ContentPart is one piece of a turn's content: either text or a binary
// file reference attached to the request.
type ContentPart struct {
	Type     PartType `json:"type" yaml:"type"`
	Text     string   `json:"text,omitempty" yaml:"text,omitempty"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	MimeType string   `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Data     []byte   `json:"data,omitempty" yaml:"data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// Turn is a single role + content entry in a conversation.
type Turn struct {
	Role  Role          `json:"role" yaml:"role"`
	Parts []ContentPart `json:"parts" yaml:"parts"`
}

// Conversation is the ordered sequence of turns submitted to a provider.
type Conversation []Turn

// UserTurn builds a single-part user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []ContentPart{TextPart(text)}}
}

// WithTurn returns a copy of the conversation with one more turn appended.
// The receiver is never mutated; environments share conversations across
// pipeline steps.
func (c Conversation) WithTurn(t Turn) Conversation {
	out := make(Conversation, 0, len(c)+1)
	out = append(out, c...)
	return append(out, t)
}

// JoinText concatenates the text of every part, in order. Binary parts
// contribute nothing.
func JoinText(parts []ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
