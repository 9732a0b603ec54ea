// Package session aggregates Cursor and Claude conversations into one
// ordered session list with a uniform message read.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/duration"
	"github.com/devark-ai/devark/pkg/models"
)

// memoTTL keeps one list snapshot consistent within a single render pass.
const memoTTL = time.Second

// SourceReader is the per-source session surface the aggregator reads
// through. cursordb.Reader and claudelog.Reader both satisfy it via thin
// adapters.
type SourceReader interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	SessionByID(ctx context.Context, id string) (*models.Session, error)
	Messages(ctx context.Context, id string) ([]models.Message, error)
}

// Filter narrows listSessions. Zero value matches everything.
type Filter struct {
	Source models.Source
	Status models.SessionStatus
}

func (f Filter) match(s *models.Session) bool {
	if f.Source != "" && s.Source != f.Source {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// Aggregator merges sessions across sources. Read-through only; errors from
// one source degrade to that source contributing zero sessions.
type Aggregator struct {
	readers map[models.Source]SourceReader
	now     func() time.Time

	mu       sync.Mutex
	memo     []models.Session
	memoTime time.Time
}

// NewAggregator creates an aggregator over the given per-source readers.
func NewAggregator(readers map[models.Source]SourceReader) *Aggregator {
	return &Aggregator{readers: readers, now: time.Now}
}

// ListSessions returns the merged list sorted by lastActivity descending,
// deduped by (source, sessionId).
func (a *Aggregator) ListSessions(ctx context.Context, filter Filter) ([]models.Session, error) {
	merged, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Session
	for i := range merged {
		if filter.match(&merged[i]) {
			out = append(out, merged[i])
		}
	}
	return out, nil
}

// snapshot returns the merged session list, memoized for up to one second.
func (a *Aggregator) snapshot(ctx context.Context) ([]models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.memo != nil && now.Sub(a.memoTime) <= memoTTL {
		return a.memo, nil
	}

	seen := map[string]bool{}
	var merged []models.Session
	for source, reader := range a.readers {
		sessions, err := reader.Sessions(ctx)
		if err != nil {
			log.Warn().Str("source", string(source)).Err(err).Msg("Session source unavailable, contributing zero sessions")
			continue
		}
		for _, s := range sessions {
			if seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			merged = append(merged, s)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].LastActivity.After(merged[j].LastActivity)
	})
	a.memo = merged
	a.memoTime = now
	return merged, nil
}

// GetSession returns one session by identity, or nil when absent.
func (a *Aggregator) GetSession(ctx context.Context, source models.Source, id string) (*models.Session, error) {
	reader, ok := a.readers[source]
	if !ok {
		return nil, nil
	}
	return reader.SessionByID(ctx, id)
}

// GetMessages returns the messages of one session in order.
func (a *Aggregator) GetMessages(ctx context.Context, source models.Source, id string) ([]models.Message, error) {
	reader, ok := a.readers[source]
	if !ok {
		return nil, nil
	}
	return reader.Messages(ctx, id)
}

// GetActiveSession returns the most recently active session whose
// lastActivity is within the active window, or nil.
func (a *Aggregator) GetActiveSession(ctx context.Context) (*models.Session, error) {
	merged, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}
	top := merged[0]
	if a.now().Sub(top.LastActivity) > models.ActiveWindow {
		return nil, nil
	}
	return &top, nil
}

// ComputeDuration applies the active-gap accounting rules to a message list.
func (a *Aggregator) ComputeDuration(msgs []models.Message) duration.Result {
	times := make([]time.Time, len(msgs))
	for i := range msgs {
		times[i] = msgs[i].Timestamp
	}
	return duration.Calculate(times)
}
