package detect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/cursordb"
	"github.com/devark-ai/devark/pkg/models"
)

const (
	// newComposerWindow treats a composer first seen with recent activity as
	// carrying one new prompt.
	newComposerWindow = 10 * time.Second

	// snapshotMaxAge bounds poll snapshot memory; composers unobserved for
	// this long are forgotten.
	snapshotMaxAge = 24 * time.Hour
)

// snapshot is the per-composer state remembered between polls.
type snapshot struct {
	promptCount int
	bubbles     map[string]bool
	observed    time.Time
}

// CursorAdapter polls Cursor's state.vscdb and emits events for new user
// prompts found by snapshot deltas.
type CursorAdapter struct {
	open     func() (cursordb.KV, error)
	interval time.Duration

	mu        sync.Mutex
	kv        cursordb.KV
	reader    *cursordb.Reader
	available bool
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	cb        func(models.PromptDetectedEvent)
	snapshots map[string]*snapshot
	primed    bool
	now       func() time.Time
}

// NewCursorAdapter creates the poll adapter. The open func abstracts the
// database handle for tests.
func NewCursorAdapter(open func() (cursordb.KV, error), interval time.Duration) *CursorAdapter {
	if open == nil {
		open = func() (cursordb.KV, error) { return cursordb.Open(cursordb.DefaultDBPath()) }
	}
	return &CursorAdapter{
		open:      open,
		interval:  interval,
		snapshots: map[string]*snapshot{},
		now:       time.Now,
	}
}

func (a *CursorAdapter) Source() models.Source { return models.SourceCursor }

// Initialize opens the database. A persistent open failure degrades the
// adapter to unavailable, logged once.
func (a *CursorAdapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	kv, err := a.open()
	if err != nil {
		a.available = false
		log.Warn().Err(err).Msg("Cursor database unavailable, adapter disabled")
		return err
	}
	a.kv = kv
	a.reader = cursordb.NewReader(kv)
	a.available = true
	return nil
}

func (a *CursorAdapter) IsAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

func (a *CursorAdapter) OnPrompt(fn func(models.PromptDetectedEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = fn
}

// Start begins the poll loop. Re-entrant.
func (a *CursorAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running || !a.available {
		return nil
	}

	// The poll loop outlives the caller's context, which may be a short
	// request scope; only Stop terminates it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.loop(loopCtx, a.done)
	return nil
}

// Stop halts the poll loop. Re-entrant.
func (a *CursorAdapter) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (a *CursorAdapter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Prime the baseline so pre-existing prompts are not replayed.
	a.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Poll(ctx)
		}
	}
}

// Poll reads all composers once and emits events for deltas against the
// previous snapshot.
func (a *CursorAdapter) Poll(ctx context.Context) {
	a.mu.Lock()
	reader := a.reader
	primed := a.primed
	a.primed = true
	cb := a.cb
	a.mu.Unlock()
	if reader == nil {
		return
	}

	composers, err := reader.Composers(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Cursor poll failed")
		return
	}

	now := a.now()
	var events []models.PromptDetectedEvent
	a.mu.Lock()
	for _, c := range composers {
		count := c.UserPromptCount()
		bubbles := c.UserBubbleIDs()

		prev, known := a.snapshots[c.ComposerID]
		next := &snapshot{promptCount: count, bubbles: bubbleSet(bubbles), observed: now}
		a.snapshots[c.ComposerID] = next

		switch {
		case !known && primed:
			// Composer appeared between polls. Only fresh activity counts as
			// a prompt; anything older is history being backfilled.
			if count > 0 && now.Sub(c.UpdatedAt) <= newComposerWindow {
				events = append(events, a.lastPromptEventLocked(ctx, reader, c, bubbles, 1)...)
			}
		case known && count > prev.promptCount:
			events = append(events, a.deltaEventsLocked(ctx, reader, c, prev, bubbles, count-prev.promptCount)...)
		}
	}
	for id, snap := range a.snapshots {
		if now.Sub(snap.observed) > snapshotMaxAge {
			delete(a.snapshots, id)
		}
	}
	a.mu.Unlock()

	if cb == nil {
		return
	}
	for _, ev := range events {
		cb(ev)
	}
}

// deltaEventsLocked resolves the new prompts of a known composer. For v9+
// composers the new bubble ids identify them; legacy composers fall back to
// the trailing inline user messages.
func (a *CursorAdapter) deltaEventsLocked(ctx context.Context, reader *cursordb.Reader, c *cursordb.Composer, prev *snapshot, bubbles []string, delta int) []models.PromptDetectedEvent {
	now := a.now()
	var events []models.PromptDetectedEvent

	if len(bubbles) > 0 {
		for _, id := range bubbles {
			if prev.bubbles[id] {
				continue
			}
			text, err := reader.BubbleText(ctx, c.ComposerID, id)
			if err != nil {
				log.Debug().Str("composerId", c.ComposerID).Str("bubbleId", id).Err(err).Msg("Bubble fetch failed")
				continue
			}
			events = append(events, models.PromptDetectedEvent{
				Source:    models.SourceCursor,
				SessionID: c.ComposerID,
				Text:      text,
				Timestamp: now,
			})
		}
		return events
	}

	return a.lastPromptEventLocked(ctx, reader, c, nil, delta)
}

// lastPromptEventLocked emits the trailing n user messages of a composer.
func (a *CursorAdapter) lastPromptEventLocked(ctx context.Context, reader *cursordb.Reader, c *cursordb.Composer, bubbles []string, n int) []models.PromptDetectedEvent {
	now := a.now()

	if len(bubbles) > 0 {
		// Most recent bubble only.
		id := bubbles[len(bubbles)-1]
		text, err := reader.BubbleText(ctx, c.ComposerID, id)
		if err != nil {
			return nil
		}
		return []models.PromptDetectedEvent{{
			Source:    models.SourceCursor,
			SessionID: c.ComposerID,
			Text:      text,
			Timestamp: now,
		}}
	}

	msgs, err := reader.GetAllMessagesForSession(ctx, c.ComposerID)
	if err != nil {
		log.Debug().Str("composerId", c.ComposerID).Err(err).Msg("Message fetch failed")
		return nil
	}
	var users []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			users = append(users, m)
		}
	}
	if len(users) == 0 {
		return nil
	}
	if n > len(users) {
		n = len(users)
	}
	var events []models.PromptDetectedEvent
	for _, m := range users[len(users)-n:] {
		events = append(events, models.PromptDetectedEvent{
			Source:    models.SourceCursor,
			SessionID: c.ComposerID,
			Text:      m.Content,
			Timestamp: now,
		})
	}
	return events
}

// Close releases the database handle.
func (a *CursorAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.kv == nil {
		return nil
	}
	err := a.kv.Close()
	a.kv = nil
	a.reader = nil
	a.available = false
	return err
}

func bubbleSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
