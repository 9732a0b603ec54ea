package cursordb

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Key prefixes inside cursorDiskKV.
const (
	composerPrefix = "composerData:"
	bubblePrefix   = "bubbleId:"
)

// bubbleTypeUser marks a user message in the v9+ header schema.
const bubbleTypeUser = 1

// Composer is a parsed composerData:<id> blob. Cursor has shipped three
// schema generations; raw keys are kept so presence checks (not just
// emptiness) drive the precedence rules.
type Composer struct {
	ComposerID string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	raw map[string]json.RawMessage
}

// inlineMessage is one legacy inline conversation entry. Field names vary by
// generation: role|type for the author, content|text|message for the body.
type inlineMessage struct {
	Role      string          `json:"role"`
	Type      json.RawMessage `json:"type"`
	Content   string          `json:"content"`
	Text      string          `json:"text"`
	Message   string          `json:"message"`
	BubbleID  string          `json:"bubbleId"`
	Timestamp int64           `json:"timestamp"`
}

// header is one fullConversationHeadersOnly entry in the v9+ schema.
type header struct {
	BubbleID string `json:"bubbleId"`
	Type     int    `json:"type"`
}

// bubble is one bubbleId:<composerId>:<bubbleId> blob.
type bubble struct {
	BubbleID  string `json:"bubbleId"`
	Type      int    `json:"type"`
	Text      string `json:"text"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ParseComposer decodes a composerData value. Malformed JSON is a ParseError
// for the caller to skip.
func ParseComposer(composerID, value string) (*Composer, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, err
	}

	c := &Composer{ComposerID: composerID, raw: raw}
	if v, ok := raw["composerId"]; ok {
		var id string
		if json.Unmarshal(v, &id) == nil && id != "" {
			c.ComposerID = id
		}
	}
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &c.Name)
	}
	c.CreatedAt = epochField(raw, "createdAt")
	c.UpdatedAt = epochField(raw, "lastUpdatedAt")
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = epochField(raw, "updatedAt")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c, nil
}

// epochField reads a millisecond epoch number field.
func epochField(raw map[string]json.RawMessage, key string) time.Time {
	v, ok := raw[key]
	if !ok {
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(v, &ms); err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// inlineKeys is the legacy precedence order for inline message arrays.
var inlineKeys = []string{"messages", "conversationHistory", "conversation"}

// inlineMessages returns the first inline array present in the blob, along
// with its presence. Presence of an empty array still wins over the v9+
// headers (documented legacy behavior).
func (c *Composer) inlineMessages() ([]inlineMessage, bool) {
	for _, key := range inlineKeys {
		v, ok := c.raw[key]
		if !ok || string(v) == "null" {
			continue
		}
		var msgs []inlineMessage
		if err := json.Unmarshal(v, &msgs); err != nil {
			continue
		}
		return msgs, true
	}
	return nil, false
}

// headers returns the v9+ conversation headers when present.
func (c *Composer) headers() ([]header, bool) {
	v, ok := c.raw["fullConversationHeadersOnly"]
	if !ok || string(v) == "null" {
		return nil, false
	}
	var hs []header
	if err := json.Unmarshal(v, &hs); err != nil {
		return nil, false
	}
	return hs, true
}

// isUser reports whether an inline message was authored by the user across
// the role/type representations Cursor has used.
func (m *inlineMessage) isUser() bool {
	if m.Role != "" {
		return m.Role == "user"
	}
	if len(m.Type) > 0 {
		var n int
		if json.Unmarshal(m.Type, &n) == nil {
			return n == bubbleTypeUser
		}
		var s string
		if json.Unmarshal(m.Type, &s) == nil {
			return s == "user"
		}
	}
	return false
}

// body returns the message text across the content/text/message field names.
func (m *inlineMessage) body() string {
	switch {
	case m.Content != "":
		return m.Content
	case m.Text != "":
		return m.Text
	default:
		return m.Message
	}
}

// UserPromptCount counts user prompts with the documented precedence:
// messages -> conversationHistory -> conversation -> v9+ headers filtered by
// type==1 -> legacy promptCount field.
func (c *Composer) UserPromptCount() int {
	if msgs, ok := c.inlineMessages(); ok {
		n := 0
		for i := range msgs {
			if msgs[i].isUser() {
				n++
			}
		}
		return n
	}

	if hs, ok := c.headers(); ok {
		n := 0
		for _, h := range hs {
			if h.Type == bubbleTypeUser {
				n++
			}
		}
		return n
	}

	if v, ok := c.raw["promptCount"]; ok {
		var n int
		if json.Unmarshal(v, &n) == nil && n > 0 {
			return n
		}
	}
	return 0
}

// UserBubbleIDs returns the user bubble ids from the v9+ headers in order.
// Empty on legacy composers.
func (c *Composer) UserBubbleIDs() []string {
	hs, ok := c.headers()
	if !ok {
		return nil
	}
	var ids []string
	for _, h := range hs {
		if h.Type == bubbleTypeUser && h.BubbleID != "" {
			ids = append(ids, h.BubbleID)
		}
	}
	return ids
}

// BubbleKey builds the cursorDiskKV key holding a bubble's full payload.
func BubbleKey(composerID, bubbleID string) string {
	return bubblePrefix + composerID + ":" + bubbleID
}

// ComposerIDFromKey strips the composerData: prefix.
func ComposerIDFromKey(key string) string {
	return strings.TrimPrefix(key, composerPrefix)
}
