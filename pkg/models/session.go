// Package models contains domain models for devark.
package models

import "time"

// Source identifies which AI tool a session or prompt came from.
type Source string

const (
	SourceCursor Source = "cursor"
	SourceClaude Source = "claude"
)

// SessionStatus represents the activity status of a session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusHistorical SessionStatus = "historical"
)

// ActiveWindow is how recent lastActivity must be for a session to count as active.
const ActiveWindow = 5 * time.Minute

// Session is a unified view of an AI coding conversation, regardless of source.
// (Source, SessionID) is globally unique.
type Session struct {
	SessionID     string        `json:"sessionId"`
	Source        Source        `json:"source"`
	WorkspaceName string        `json:"workspaceName"`
	WorkspacePath string        `json:"workspacePath,omitempty"`
	StartTime     time.Time     `json:"startTime"`
	LastActivity  time.Time     `json:"lastActivity"`
	PromptCount   int           `json:"promptCount"`
	Status        SessionStatus `json:"status"`
	Highlights    []string      `json:"highlights,omitempty"`
}

// Key returns the globally unique identity of the session.
func (s *Session) Key() string {
	return string(s.Source) + ":" + s.SessionID
}

// ResolveStatus recomputes Status from LastActivity against the given clock.
func (s *Session) ResolveStatus(now time.Time) {
	if now.Sub(s.LastActivity) <= ActiveWindow {
		s.Status = SessionStatusActive
	} else {
		s.Status = SessionStatusHistorical
	}
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single normalized conversation message.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	BubbleID  string    `json:"bubbleId,omitempty"`
}

// PromptDetectedEvent is the canonical event emitted once per user prompt
// submitted to any configured AI tool.
type PromptDetectedEvent struct {
	Source    Source            `json:"source"`
	SessionID string            `json:"sessionId"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`

	// Skip marks events that are delivered but must not be scored:
	// empty prompts, pure slash commands, and tool-result markers.
	Skip       bool   `json:"skip,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
}
