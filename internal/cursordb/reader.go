package cursordb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/pkg/models"
)

// activeSessionWindow bounds getActiveSessions to composers with recent
// activity.
const activeSessionWindow = 24 * time.Hour

// Reader exposes a pure query surface over the Cursor database.
type Reader struct {
	kv  KV
	now func() time.Time
}

// NewReader creates a reader over an opened KV handle.
func NewReader(kv KV) *Reader {
	return &Reader{kv: kv, now: time.Now}
}

// GetActiveSessions lists composers with activity in the last 24 hours,
// sorted by last activity descending.
func (r *Reader) GetActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := r.kv.ListPrefix(ctx, composerPrefix)
	if err != nil {
		return nil, fmt.Errorf("list composers: %w", err)
	}

	cutoff := r.now().Add(-activeSessionWindow)
	var sessions []models.Session
	for key, value := range rows {
		composer, err := ParseComposer(ComposerIDFromKey(key), value)
		if err != nil {
			log.Debug().Str("key", key).Err(err).Msg("Skipping malformed composer blob")
			continue
		}
		if composer.UpdatedAt.Before(cutoff) {
			continue
		}
		sessions = append(sessions, r.toSession(composer))
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// Composers returns every parsable composer blob. Used by the poll adapter,
// which needs prompt counts and bubble ids rather than projected sessions.
func (r *Reader) Composers(ctx context.Context) ([]*Composer, error) {
	rows, err := r.kv.ListPrefix(ctx, composerPrefix)
	if err != nil {
		return nil, fmt.Errorf("list composers: %w", err)
	}
	composers := make([]*Composer, 0, len(rows))
	for key, value := range rows {
		composer, err := ParseComposer(ComposerIDFromKey(key), value)
		if err != nil {
			continue
		}
		composers = append(composers, composer)
	}
	return composers, nil
}

// GetCursorSessionByID returns one composer as a session, or nil when absent.
func (r *Reader) GetCursorSessionByID(ctx context.Context, id string) (*models.Session, error) {
	value, ok, err := r.kv.Get(ctx, composerPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	composer, err := ParseComposer(id, value)
	if err != nil {
		return nil, fmt.Errorf("parse composer %s: %w", id, err)
	}
	session := r.toSession(composer)
	return &session, nil
}

func (r *Reader) toSession(c *Composer) models.Session {
	name := c.Name
	if name == "" {
		name = "Cursor"
	}
	s := models.Session{
		SessionID:     c.ComposerID,
		Source:        models.SourceCursor,
		WorkspaceName: name,
		StartTime:     c.CreatedAt,
		LastActivity:  c.UpdatedAt,
		PromptCount:   c.UserPromptCount(),
	}
	if s.StartTime.IsZero() {
		s.StartTime = s.LastActivity
	}
	s.ResolveStatus(r.now())
	return s
}

// GetAllMessagesForSession returns every message of a composer, normalized
// across schema generations. Missing bubble timestamps inherit the
// composer's updatedAt, perturbed monotonically by index to preserve order.
func (r *Reader) GetAllMessagesForSession(ctx context.Context, id string) ([]models.Message, error) {
	value, ok, err := r.kv.Get(ctx, composerPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	composer, err := ParseComposer(id, value)
	if err != nil {
		return nil, fmt.Errorf("parse composer %s: %w", id, err)
	}

	if msgs, present := composer.inlineMessages(); present {
		return r.normalizeInline(composer, msgs), nil
	}
	if hs, present := composer.headers(); present {
		return r.resolveBubbles(ctx, composer, hs)
	}
	return nil, nil
}

func (r *Reader) normalizeInline(c *Composer, msgs []inlineMessage) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		role := models.RoleAssistant
		if m.isUser() {
			role = models.RoleUser
		}
		ts := time.UnixMilli(m.Timestamp)
		if m.Timestamp <= 0 {
			ts = perturb(c.UpdatedAt, i)
		}
		out = append(out, models.Message{
			ID:        messageID(c.ComposerID, i, m.BubbleID),
			Role:      role,
			Content:   m.body(),
			Timestamp: ts,
			BubbleID:  m.BubbleID,
		})
	}
	return out
}

// resolveBubbles fetches each header's full text from its sibling
// bubbleId:{composerId}:{bubbleId} row.
func (r *Reader) resolveBubbles(ctx context.Context, c *Composer, hs []header) ([]models.Message, error) {
	out := make([]models.Message, 0, len(hs))
	for i, h := range hs {
		role := models.RoleAssistant
		if h.Type == bubbleTypeUser {
			role = models.RoleUser
		}

		var content string
		ts := time.Time{}
		if h.BubbleID != "" {
			value, ok, err := r.kv.Get(ctx, BubbleKey(c.ComposerID, h.BubbleID))
			if err != nil {
				return nil, err
			}
			if ok {
				var b bubble
				if err := json.Unmarshal([]byte(value), &b); err == nil {
					content = b.Text
					if content == "" {
						content = b.Content
					}
					if b.Timestamp > 0 {
						ts = time.UnixMilli(b.Timestamp)
					}
				}
			}
		}
		if ts.IsZero() {
			ts = perturb(c.UpdatedAt, i)
		}

		out = append(out, models.Message{
			ID:        messageID(c.ComposerID, i, h.BubbleID),
			Role:      role,
			Content:   content,
			Timestamp: ts,
			BubbleID:  h.BubbleID,
		})
	}
	return out, nil
}

// BubbleText returns the text of a single bubble, used by the poll adapter
// to resolve newly observed user bubbles.
func (r *Reader) BubbleText(ctx context.Context, composerID, bubbleID string) (string, error) {
	value, ok, err := r.kv.Get(ctx, BubbleKey(composerID, bubbleID))
	if err != nil || !ok {
		return "", err
	}
	var b bubble
	if err := json.Unmarshal([]byte(value), &b); err != nil {
		return "", err
	}
	if b.Text != "" {
		return b.Text, nil
	}
	return b.Content, nil
}

// messageID derives a deterministic id from the session and position,
// preferring the bubble id when one exists.
func messageID(composerID string, index int, bubbleID string) string {
	if bubbleID != "" {
		return bubbleID
	}
	return fmt.Sprintf("%s:%d", composerID, index)
}

// perturb offsets base by index milliseconds so derived timestamps keep the
// original ordering.
func perturb(base time.Time, index int) time.Time {
	return base.Add(time.Duration(index) * time.Millisecond)
}
