// Package app assembles the devark services into one container constructed
// at startup and passed by reference. Tests swap individual fields for
// fakes instead of reaching into globals.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/bus"
	"github.com/devark-ai/devark/internal/cloudsync"
	"github.com/devark-ai/devark/internal/config"
	"github.com/devark-ai/devark/internal/cursordb"
	"github.com/devark-ai/devark/internal/detect"
	"github.com/devark-ai/devark/internal/hookcfg"
	"github.com/devark-ai/devark/internal/kv"
	"github.com/devark-ai/devark/internal/provider"
	"github.com/devark-ai/devark/internal/scoring"
	"github.com/devark-ai/devark/internal/session"
	"github.com/devark-ai/devark/internal/store"
	"github.com/devark-ai/devark/internal/vault"
	"github.com/devark-ai/devark/internal/worker"
	"github.com/devark-ai/devark/pkg/models"
)

// Services is the dependency container for the daemon.
type Services struct {
	Config    *config.Store
	Vault     *vault.Vault
	KV        *kv.Store
	History   *store.HistoryStore
	Saved     *store.SavedStore
	Providers *provider.Registry
	Scorer    *scoring.Scorer
	Sessions  *session.Aggregator
	Detection *detect.Service
	Sync      *cloudsync.Client
	Bus       *bus.Bus
	Worker    *worker.Service
}

// New builds the full service graph. The data directory must exist; its
// absence is the one fatal startup condition.
func New(ctx context.Context, version string) (*Services, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}

	cfg := config.NewStore(config.ConfigPath())
	v := vault.New(cfg, config.KeyPath())

	kvStore, err := kv.Open(ctx, config.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	registry := provider.NewRegistry(cfg, v)

	s := &Services{
		Config:    cfg,
		Vault:     v,
		KV:        kvStore,
		History:   store.NewHistoryStore(kvStore),
		Saved:     store.NewSavedStore(kvStore),
		Providers: registry,
		Scorer:    scoring.New(registry),
		Sessions:  session.NewAggregator(session.DefaultReaders()),
		Detection: detect.NewService(cfg.Detection()),
		Bus:       bus.New(),
	}
	s.Worker = worker.New(version, s.Bus)
	s.Sync = cloudsync.New(cfg.APIURL(), v, s.Sessions, func() (cloudsync.Rules, error) {
		return cloudsync.LoadRules(config.SyncRulesPath())
	})

	s.registerAdapters()
	s.registerHandlers()
	s.wirePipeline()
	return s, nil
}

// registerAdapters attaches both detection sources. The Claude adapter
// installs hooks into the current project on first start.
func (s *Services) registerAdapters() {
	det := s.Config.Detection()
	s.Detection.RegisterAdapter(detect.NewCursorAdapter(func() (cursordb.KV, error) {
		return cursordb.Open(cursordb.DefaultDBPath())
	}, det.PollInterval))

	s.Detection.RegisterAdapter(detect.NewClaudeAdapter(config.QueuePath(), func() error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		binary, err := os.Executable()
		if err != nil {
			return err
		}
		return hookcfg.InstallClaudeHooks(dir, binary+"-sync")
	}))
}

// wirePipeline connects detection to scoring, history, and the SSE fanout.
func (s *Services) wirePipeline() {
	s.Sync.OnReauthRequired(func() {
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypeReauthRequired, nil))
	})
	s.Sync.OnProgress(func(p cloudsync.Progress) {
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypeSyncProgress, p))
	})
	s.History.SetChangeFunc(func(what string) {
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypePromptHistory, map[string]string{"changed": what}))
	})
	s.Saved.SetChangeFunc(func(what string) {
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypeSavedPrompts, map[string]string{"changed": what}))
	})

	s.Detection.OnPromptDetected(func(ev models.PromptDetectedEvent) {
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypePromptDetected, ev))
		if ev.Skip || !s.Config.Detection().AutoAnalyze {
			return
		}
		go s.analyze(ev)
	})
}

// analyze scores one detected prompt and records it.
func (s *Services) analyze(ev models.PromptDetectedEvent) {
	ctx := context.Background()
	analyzed, err := s.Scorer.Score(ctx, ev)
	if err != nil {
		log.Warn().Str("source", string(ev.Source)).Err(err).Msg("Prompt analysis failed")
		s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypeAnalysisFailed, bus.ErrorPayload{
			Name:    "ParseError",
			Message: err.Error(),
		}))
		return
	}
	if err := s.History.AddPrompt(ctx, *analyzed); err != nil {
		log.Warn().Err(err).Msg("Failed to record analyzed prompt")
	}
	s.Worker.Broadcaster().Broadcast(bus.NewMessage(bus.TypePromptAnalyzed, analyzed))
}

// Initialize brings up stores and adapters, then releases any queued bus
// messages.
func (s *Services) Initialize(ctx context.Context) error {
	if err := s.History.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize history: %w", err)
	}
	if err := s.Saved.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize saved prompts: %w", err)
	}
	if err := s.Detection.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize detection: %w", err)
	}
	s.Bus.SetReady(ctx)
	return nil
}

// Start begins detection and serves the worker HTTP surface until ctx is
// cancelled.
func (s *Services) Start(ctx context.Context, addr string) error {
	if err := s.Detection.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.Detection.Stop(); err != nil {
			log.Debug().Err(err).Msg("Detection stop")
		}
	}()
	return s.Worker.Start(ctx, addr)
}

// Close releases held resources.
func (s *Services) Close() error {
	s.Bus.Dispose()
	var firstErr error
	if err := s.Config.Close(); err != nil {
		firstErr = err
	}
	if err := s.KV.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
