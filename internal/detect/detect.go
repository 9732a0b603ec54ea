// Package detect delivers one canonical PromptDetectedEvent per user prompt
// submitted to any configured AI tool, via per-tool capture adapters.
package detect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/devark-ai/devark/internal/config"
	"github.com/devark-ai/devark/internal/promptutil"
	"github.com/devark-ai/devark/pkg/models"
)

var meter = otel.Meter("github.com/devark-ai/devark/internal/detect")

// Adapter captures prompts from one AI tool. Adapters share no state;
// detection results fan out through the service.
type Adapter interface {
	Source() models.Source
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop() error
	IsAvailable() bool
	OnPrompt(fn func(models.PromptDetectedEvent))
}

// Handler receives detected prompt events.
type Handler func(models.PromptDetectedEvent)

// Service coordinates the adapters and applies the duplicate guard and skip
// annotation before fanout.
type Service struct {
	mu       sync.Mutex
	adapters map[models.Source]Adapter
	order    []models.Source
	handlers []Handler
	cfg      config.DetectionConfig
	running  bool

	// recent maps (source, sessionId, fingerprint) to last delivery time for
	// the duplicate guard.
	recent map[string]time.Time
	now    func() time.Time

	promptsDetected metric.Int64Counter
}

// NewService creates a detection service with the given settings.
func NewService(cfg config.DetectionConfig) *Service {
	s := &Service{
		adapters: map[models.Source]Adapter{},
		cfg:      cfg,
		recent:   map[string]time.Time{},
		now:      time.Now,
	}
	s.promptsDetected, _ = meter.Int64Counter("devark.detect.prompts")
	return s
}

// RegisterAdapter registers an adapter, idempotent by source.
func (s *Service) RegisterAdapter(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.adapters[a.Source()]; ok {
		return
	}
	s.adapters[a.Source()] = a
	s.order = append(s.order, a.Source())
	a.OnPrompt(s.dispatch)
}

// OnPromptDetected subscribes a handler. Multiple subscribers each receive
// every event.
func (s *Service) OnPromptDetected(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Initialize initializes every registered adapter. A failing adapter marks
// itself unavailable and is excluded from Start; it never stops the others.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	adapters := s.snapshotAdapters()
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			if err := a.Initialize(ctx); err != nil {
				log.Warn().Str("source", string(a.Source())).Err(err).Msg("Adapter initialization failed, excluded from start")
			}
			return nil
		})
	}
	return g.Wait()
}

// Start starts all available adapters. Re-entrant; a second call while
// running is a no-op. Disabled configuration keeps adapters stopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	adapters := s.snapshotAdapters()
	s.mu.Unlock()

	for _, a := range adapters {
		if !a.IsAvailable() {
			continue
		}
		if err := a.Start(ctx); err != nil {
			log.Warn().Str("source", string(a.Source())).Err(err).Msg("Adapter failed to start")
		}
	}
	return nil
}

// Stop stops all adapters. Re-entrant.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	adapters := s.snapshotAdapters()
	s.mu.Unlock()

	for _, a := range adapters {
		if err := a.Stop(); err != nil {
			log.Warn().Str("source", string(a.Source())).Err(err).Msg("Adapter failed to stop")
		}
	}
	return nil
}

// UpdateConfig hot-swaps the settings. Disabling stops the adapters but
// keeps them registered; re-enabling requires a Start call.
func (s *Service) UpdateConfig(ctx context.Context, cfg config.DetectionConfig) {
	s.mu.Lock()
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case wasEnabled && !cfg.Enabled:
		_ = s.Stop()
	case !wasEnabled && cfg.Enabled:
		_ = s.Start(ctx)
	}
}

// Running reports whether the service has started adapters.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) snapshotAdapters() []Adapter {
	out := make([]Adapter, 0, len(s.order))
	for _, source := range s.order {
		out = append(out, s.adapters[source])
	}
	return out
}

// dispatch applies the duplicate guard, annotates unscoreable prompts, and
// fans the event out to every subscriber.
func (s *Service) dispatch(ev models.PromptDetectedEvent) {
	s.mu.Lock()
	now := s.now()
	window := s.cfg.DuplicateWindow
	key := string(ev.Source) + "|" + ev.SessionID + "|" + promptutil.Fingerprint(ev.Text)
	if last, ok := s.recent[key]; ok && now.Sub(last) < window {
		s.mu.Unlock()
		log.Debug().Str("source", string(ev.Source)).Str("sessionId", ev.SessionID).Msg("Suppressing duplicate prompt")
		return
	}
	s.recent[key] = now
	s.pruneRecentLocked(now)
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()

	annotate(&ev)
	s.promptsDetected.Add(context.Background(), 1)
	for _, h := range handlers {
		h(ev)
	}
}

// pruneRecentLocked drops guard entries old enough to never suppress again.
func (s *Service) pruneRecentLocked(now time.Time) {
	if len(s.recent) < 1024 {
		return
	}
	for key, seen := range s.recent {
		if now.Sub(seen) > s.cfg.DuplicateWindow {
			delete(s.recent, key)
		}
	}
}

// annotate marks prompts the scoring pipeline must skip. They are still
// delivered.
func annotate(ev *models.PromptDetectedEvent) {
	switch {
	case len(ev.Text) == 0 || promptutil.Normalize(ev.Text) == "":
		ev.Skip = true
		ev.SkipReason = "empty"
	case promptutil.DetectSlashCommand(ev.Text) != nil:
		ev.Skip = true
		ev.SkipReason = "slashCommand"
	case !promptutil.IsActualUserPrompt(ev.Text):
		ev.Skip = true
		ev.SkipReason = "toolResult"
	}
}
