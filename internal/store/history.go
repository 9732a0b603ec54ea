// Package store implements the persistent prompt history, saved prompts,
// and daily stats stores over the key-value snapshot store.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/kv"
	"github.com/devark-ai/devark/pkg/models"
)

const (
	historyKey = "devark.promptHistory"
	statsKey   = "devark.dailyStats"

	// MaxHistory bounds the prompt history FIFO.
	MaxHistory = 100

	// MaxHistoryAge is the retention window; older entries are purged on
	// every initialize.
	MaxHistoryAge = 30 * 24 * time.Hour
)

// ChangeFunc is invoked after every successful mutation so the UI layer can
// broadcast invalidations.
type ChangeFunc func(what string)

// HistoryStore keeps analyzed prompts and the daily stats derived from them.
// The snapshot is loaded once into memory; every mutation serializes through
// a single write so concurrent calls are linearized.
type HistoryStore struct {
	kv       *kv.Store
	onChange ChangeFunc
	now      func() time.Time

	mu      sync.Mutex
	prompts []models.AnalyzedPrompt
	stats   models.DailyStats
	loaded  bool
}

// NewHistoryStore creates a history store over the given snapshot store.
func NewHistoryStore(store *kv.Store) *HistoryStore {
	return &HistoryStore{kv: store, now: time.Now}
}

// SetChangeFunc registers the invalidation callback.
func (h *HistoryStore) SetChangeFunc(fn ChangeFunc) { h.onChange = fn }

// Initialize loads both snapshots, purges entries older than 30 days, and
// resets daily stats when the calendar day rolled over.
func (h *HistoryStore) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if raw, ok, err := h.kv.Get(ctx, historyKey); err != nil {
		return err
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &h.prompts); err != nil {
			log.Warn().Err(err).Msg("Prompt history snapshot unparsable, starting empty")
			h.prompts = nil
		}
	}

	if raw, ok, err := h.kv.Get(ctx, statsKey); err != nil {
		return err
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &h.stats); err != nil {
			h.stats = models.DailyStats{}
		}
	}

	now := h.now()
	cutoff := now.Add(-MaxHistoryAge)
	kept := h.prompts[:0]
	for _, p := range h.prompts {
		if p.Timestamp.After(cutoff) {
			kept = append(kept, p)
		}
	}
	purged := len(h.prompts) - len(kept)
	h.prompts = kept

	h.resetStatsIfStale(now)

	h.loaded = true
	if purged > 0 {
		log.Info().Int("purged", purged).Msg("Purged expired prompt history entries")
	}
	return h.flushLocked(ctx)
}

// AddPrompt prepends a scored prompt, trims the FIFO, and updates daily stats.
func (h *HistoryStore) AddPrompt(ctx context.Context, p models.AnalyzedPrompt) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prompts = append([]models.AnalyzedPrompt{p}, h.prompts...)
	if len(h.prompts) > MaxHistory {
		h.prompts = h.prompts[:MaxHistory]
	}

	now := h.now()
	h.resetStatsIfStale(now)
	h.stats.AnalyzedToday++
	h.stats.AvgScore = h.todayAverageLocked(now)

	if err := h.flushLocked(ctx); err != nil {
		return err
	}
	h.notify("promptHistory")
	return nil
}

// Prompts returns a copy of the history, newest first.
func (h *HistoryStore) Prompts() []models.AnalyzedPrompt {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.AnalyzedPrompt, len(h.prompts))
	copy(out, h.prompts)
	return out
}

// Stats returns the current daily stats, resetting first if the day changed.
func (h *HistoryStore) Stats() models.DailyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetStatsIfStale(h.now())
	return h.stats
}

// Clear removes the whole history. Daily stats survive a clear.
func (h *HistoryStore) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = nil
	if err := h.flushLocked(ctx); err != nil {
		return err
	}
	h.notify("promptHistory")
	return nil
}

// resetStatsIfStale zeroes the counters when lastResetDate is not today.
// avgScore is recomputed from surviving entries on every write, so a reset
// here is enough to keep it honest.
func (h *HistoryStore) resetStatsIfStale(now time.Time) {
	if models.SameCalendarDay(h.stats.LastResetDate, now) {
		return
	}
	h.stats = models.DailyStats{LastResetDate: now}
}

// todayAverageLocked recomputes the mean score across today's prompts.
func (h *HistoryStore) todayAverageLocked(now time.Time) float64 {
	var sum float64
	var n int
	for _, p := range h.prompts {
		if models.SameCalendarDay(p.Timestamp, now) {
			sum += p.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (h *HistoryStore) flushLocked(ctx context.Context) error {
	rawPrompts, err := json.Marshal(h.prompts)
	if err != nil {
		return err
	}
	if err := h.kv.Set(ctx, historyKey, string(rawPrompts)); err != nil {
		return err
	}
	rawStats, err := json.Marshal(h.stats)
	if err != nil {
		return err
	}
	return h.kv.Set(ctx, statsKey, string(rawStats))
}

func (h *HistoryStore) notify(what string) {
	if h.onChange != nil {
		h.onChange(what)
	}
}
