// Package domain holds the records shared between the engine, the store, and
// the host UI: books, annotations, personas, and chat turns.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Author identifies who wrote an annotation comment.
type Author string

const (
	AuthorAI   Author = "ai"
	AuthorUser Author = "user"
)

// Role tags a chat turn. RoleModel denotes assistant output regardless of
// which provider produced it.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// InlinePart carries binary data (a page image) inside a chat turn.
type InlinePart struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// ChatTurn is the canonical provider-agnostic message representation.
type ChatTurn struct {
	Role  Role         `json:"role"`
	Text  string       `json:"text"`
	Parts []InlinePart `json:"parts,omitempty"`
}

// Book holds the full text the context extractor searches. Content is
// immutable from the engine's perspective during a single request.
type Book struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Author  string    `json:"author,omitempty"`
	Content string    `json:"content"`
	AddedAt time.Time `json:"addedAt"`
}

// Annotation is a unit of interaction anchored to a substring of a book's
// content. The in-flight state of an annotation is tracked out-of-band by the
// task coordinator, never on the record itself.
type Annotation struct {
	ID            string     `json:"id"`
	BookID        string     `json:"bookId"`
	TextSelection string     `json:"textSelection"`
	Author        Author     `json:"author"`
	Comment       string     `json:"comment"`
	Topic         string     `json:"topic,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	PersonaID     string     `json:"personaId,omitempty"`
	ChatHistory   []ChatTurn `json:"chatHistory,omitempty"`
	IsAutonomous  bool       `json:"isAutonomous,omitempty"`
}

// Persona is a configured AI character. LongTermMemory is rewritten by the
// consolidation routine; the engine otherwise only reads it.
type Persona struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Relationship   string `json:"relationship"`
	Description    string `json:"description"`
	Avatar         string `json:"avatar,omitempty"`
	UserIdentity   string `json:"userIdentity"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`
	LongTermMemory string `json:"longTermMemory,omitempty"`
}

// NewID returns a fresh identifier for books and annotations.
func NewID() string {
	return uuid.NewString()
}

// CloneAnnotations returns a deep-enough copy of the collection for
// whole-collection-replace updates: the slice and each chat history are
// copied so callers can mutate the result without aliasing the original.
func CloneAnnotations(src []Annotation) []Annotation {
	out := make([]Annotation, len(src))
	copy(out, src)
	for i := range out {
		if len(out[i].ChatHistory) > 0 {
			history := make([]ChatTurn, len(out[i].ChatHistory))
			copy(history, out[i].ChatHistory)
			out[i].ChatHistory = history
		}
	}
	return out
}
