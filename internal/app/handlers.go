package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/devark-ai/devark/internal/bus"
	"github.com/devark-ai/devark/internal/cloudsync"
	"github.com/devark-ai/devark/internal/config"
	"github.com/devark-ai/devark/internal/hookcfg"
	"github.com/devark-ai/devark/internal/provider"
	"github.com/devark-ai/devark/internal/scoring"
	"github.com/devark-ai/devark/internal/session"
	"github.com/devark-ai/devark/internal/store"
	"github.com/devark-ai/devark/internal/vault"
	"github.com/devark-ai/devark/pkg/models"
)

// registerHandlers wires every bus message type to its owning component.
func (s *Services) registerHandlers() {
	s.Bus.Register(&historyHandler{s})
	s.Bus.Register(&savedHandler{s})
	s.Bus.Register(&scoringHandler{s})
	s.Bus.Register(&providerHandler{s})
	s.Bus.Register(&authHandler{s})
	s.Bus.Register(&sessionHandler{s})
	s.Bus.Register(&syncHandler{s})
	s.Bus.Register(&detectionHandler{s})
}

func reply(msgType string, data any) (*bus.Message, error) {
	m := bus.NewMessage(msgType, data)
	return &m, nil
}

func invalidInput(msg string) error {
	return &bus.NamedError{Name: "InvalidInput", Err: errors.New(msg)}
}

func decode(msg bus.Message, out any) error {
	if len(msg.Data) == 0 {
		return invalidInput("missing payload for " + msg.Type)
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return invalidInput("malformed payload for " + msg.Type)
	}
	return nil
}

// historyHandler owns prompt history and daily stats.
type historyHandler struct{ s *Services }

func (h *historyHandler) Types() []string {
	return []string{
		bus.TypeGetPromptHistory, bus.TypeGetDailyStats,
		bus.TypeAddPrompt, bus.TypeClearHistory,
	}
}

func (h *historyHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetPromptHistory:
		return reply(bus.TypePromptHistory, h.s.History.Prompts())
	case bus.TypeGetDailyStats:
		return reply(bus.TypeDailyStats, h.s.History.Stats())
	case bus.TypeAddPrompt:
		var p models.AnalyzedPrompt
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.s.History.AddPrompt(ctx, p); err != nil {
			return nil, err
		}
		return reply(bus.TypePromptAdded, p)
	case bus.TypeClearHistory:
		// Destructive; requires an explicit confirmation round-trip.
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if err := decode(msg, &body); err != nil || !body.Confirm {
			return reply(bus.TypeConfirmClearHistory, nil)
		}
		if err := h.s.History.Clear(ctx); err != nil {
			return nil, err
		}
		return reply(bus.TypeHistoryCleared, nil)
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

// savedHandler owns the saved prompt library.
type savedHandler struct{ s *Services }

func (h *savedHandler) Types() []string {
	return []string{
		bus.TypeGetSavedPrompts, bus.TypeSavePrompt, bus.TypeUpdateSavedPrompt,
		bus.TypeDeleteSavedPrompt, bus.TypeSearchSavedPrompts,
		bus.TypeGetPromptTags, bus.TypeGetPromptFolders,
	}
}

func (h *savedHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetSavedPrompts:
		return reply(bus.TypeSavedPrompts, h.s.Saved.All())
	case bus.TypeSavePrompt:
		var p models.SavedPrompt
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		saved, err := h.s.Saved.Save(ctx, p)
		if err != nil {
			return nil, mapQuota(err)
		}
		return reply(bus.TypePromptSaved, saved)
	case bus.TypeUpdateSavedPrompt:
		var p models.SavedPrompt
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.s.Saved.Update(ctx, p); err != nil {
			return nil, err
		}
		return reply(bus.TypeSavedPromptUpdated, p)
	case bus.TypeDeleteSavedPrompt:
		var body struct {
			ID string `json:"id"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if err := h.s.Saved.Delete(ctx, body.ID); err != nil {
			return nil, err
		}
		return reply(bus.TypeSavedPromptDeleted, body)
	case bus.TypeSearchSavedPrompts:
		var body struct {
			Query string `json:"query"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		return reply(bus.TypeSavedPromptSearchResults, h.s.Saved.Search(body.Query))
	case bus.TypeGetPromptTags:
		return reply(bus.TypePromptTags, collectTags(h.s.Saved))
	case bus.TypeGetPromptFolders:
		return reply(bus.TypePromptFolders, h.s.Saved.Folders())
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

func mapQuota(err error) error {
	if errors.Is(err, store.ErrQuotaExceeded) {
		return &bus.NamedError{Name: "QuotaError", Err: err}
	}
	return err
}

func collectTags(s *store.SavedStore) []string {
	seen := map[string]bool{}
	for _, p := range s.All() {
		for _, tag := range p.Tags {
			seen[tag] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// scoringHandler owns on-demand analysis and the coaching status view.
type scoringHandler struct{ s *Services }

func (h *scoringHandler) Types() []string {
	return []string{
		bus.TypeAnalyzePrompt, bus.TypeReanalyzePrompt, bus.TypeImprovePrompt,
		bus.TypeGetCoachingStatus, bus.TypeCancelLoading,
	}
}

func (h *scoringHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeAnalyzePrompt, bus.TypeReanalyzePrompt:
		var ev models.PromptDetectedEvent
		if err := decode(msg, &ev); err != nil {
			return nil, err
		}
		analyzed, err := h.s.Scorer.Score(ctx, ev)
		if err != nil {
			if errors.Is(err, scoring.ErrAnalysisFailed) {
				return nil, &bus.NamedError{Name: "ParseError", Err: err}
			}
			return nil, err
		}
		if err := h.s.History.AddPrompt(ctx, *analyzed); err != nil {
			return nil, err
		}
		return reply(bus.TypePromptAnalyzed, analyzed)
	case bus.TypeImprovePrompt:
		var ev models.PromptDetectedEvent
		if err := decode(msg, &ev); err != nil {
			return nil, err
		}
		analyzed, err := h.s.Scorer.Improve(ctx, ev)
		if err != nil {
			if errors.Is(err, scoring.ErrAnalysisFailed) {
				return nil, &bus.NamedError{Name: "ParseError", Err: err}
			}
			return nil, err
		}
		return reply(bus.TypePromptImproved, analyzed)
	case bus.TypeGetCoachingStatus:
		det := h.s.Config.Detection()
		stats := h.s.History.Stats()
		return reply(bus.TypeCoachingStatus, map[string]any{
			"enabled":        det.Enabled,
			"autoAnalyze":    det.AutoAnalyze,
			"activeProvider": h.s.Config.ActiveProvider(),
			"analyzedToday":  stats.AnalyzedToday,
			"avgScore":       stats.AvgScore,
		})
	case bus.TypeCancelLoading:
		// In-flight generate calls abort with the request context; this
		// acknowledges the UI's cancel click.
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

// providerHandler owns the LLM provider registry surface.
type providerHandler struct{ s *Services }

func (h *providerHandler) Types() []string {
	return []string{
		bus.TypeGetProviders, bus.TypeSetActiveProvider,
		bus.TypeConfigureProvider, bus.TypeDetectProviders, bus.TypeListModels,
	}
}

type providerView struct {
	ID        string `json:"id"`
	Active    bool   `json:"active"`
	Endpoint  string `json:"endpoint,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKeyRef string `json:"apiKeyRef,omitempty"`
}

func (h *providerHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetProviders:
		active := h.s.Config.ActiveProvider()
		views := make([]providerView, 0, len(h.s.Providers.IDs()))
		for _, id := range h.s.Providers.IDs() {
			pc := h.s.Config.Provider(id)
			views = append(views, providerView{
				ID:        id,
				Active:    id == active,
				Endpoint:  pc.Endpoint,
				Model:     pc.Model,
				APIKeyRef: pc.APIKeyRef,
			})
		}
		return reply(bus.TypeProviders, views)
	case bus.TypeSetActiveProvider:
		var body struct {
			ID string `json:"id"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if err := h.s.Providers.SetActive(body.ID); err != nil {
			return nil, mapProviderErr(err)
		}
		return reply(bus.TypeActiveProviderChanged, body)
	case bus.TypeConfigureProvider:
		var body struct {
			ID        string `json:"id"`
			Endpoint  string `json:"endpoint"`
			Model     string `json:"model"`
			APIKeyRef string `json:"apiKeyRef"`
			APIKey    string `json:"apiKey"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if body.APIKey != "" {
			ref := body.APIKeyRef
			if ref == "" {
				ref = body.ID
			}
			if err := h.s.Vault.StoreSecret(ref, body.APIKey); err != nil {
				return nil, err
			}
		}
		err := h.s.Providers.Configure(body.ID, config.ProviderConfig{
			Endpoint:  body.Endpoint,
			Model:     body.Model,
			APIKeyRef: body.APIKeyRef,
		})
		if err != nil {
			return nil, mapProviderErr(err)
		}
		return reply(bus.TypeProviderConfigured, map[string]string{"id": body.ID})
	case bus.TypeDetectProviders:
		detections := map[string]provider.Detection{}
		for _, id := range h.s.Providers.IDs() {
			p, _ := h.s.Providers.Get(id)
			detections[id] = p.Detect(ctx)
		}
		return reply(bus.TypeProvidersDetected, detections)
	case bus.TypeListModels:
		var body struct {
			ID string `json:"id"`
		}
		if len(msg.Data) > 0 {
			if err := decode(msg, &body); err != nil {
				return nil, err
			}
		}
		if body.ID == "" {
			body.ID = h.s.Config.ActiveProvider()
		}
		p, ok := h.s.Providers.Get(body.ID)
		if !ok {
			return nil, mapProviderErr(provider.ErrUnknownProvider)
		}
		ids, err := p.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeModels, map[string]any{"id": body.ID, "models": ids})
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

func mapProviderErr(err error) error {
	if errors.Is(err, provider.ErrUnknownProvider) {
		return &bus.NamedError{Name: "InvalidInput", Err: err}
	}
	return err
}

// authHandler owns the vault token lifecycle.
type authHandler struct{ s *Services }

func (h *authHandler) Types() []string {
	return []string{
		bus.TypeGetAuthStatus, bus.TypeSignIn, bus.TypeStoreToken,
		bus.TypeSignOut, bus.TypeClearToken,
	}
}

func (h *authHandler) Handle(_ context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetAuthStatus:
		return reply(bus.TypeAuthStatus, map[string]bool{"signedIn": h.s.Vault.HasToken()})
	case bus.TypeSignIn, bus.TypeStoreToken:
		var body struct {
			Token string `json:"token"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if err := h.s.Vault.StoreToken(body.Token); err != nil {
			if errors.Is(err, vault.ErrTokenTooShort) {
				return nil, &bus.NamedError{Name: "InvalidInput", Err: err}
			}
			return nil, err
		}
		if msg.Type == bus.TypeSignIn {
			return reply(bus.TypeSignedIn, nil)
		}
		return reply(bus.TypeTokenStored, nil)
	case bus.TypeSignOut:
		// Destructive; requires an explicit confirmation round-trip.
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if err := decode(msg, &body); err != nil || !body.Confirm {
			return reply(bus.TypeConfirmSignOut, nil)
		}
		if err := h.s.Vault.ClearToken(); err != nil {
			return nil, err
		}
		return reply(bus.TypeSignedOut, nil)
	case bus.TypeClearToken:
		if err := h.s.Vault.ClearToken(); err != nil {
			return nil, err
		}
		return reply(bus.TypeTokenCleared, nil)
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

// sessionHandler owns the unified session views.
type sessionHandler struct{ s *Services }

func (h *sessionHandler) Types() []string {
	return []string{
		bus.TypeGetSessions, bus.TypeGetSession, bus.TypeGetSessionMessages,
		bus.TypeGetActiveSession, bus.TypeGetSessionDuration,
	}
}

type sessionRef struct {
	Source    models.Source `json:"source"`
	SessionID string        `json:"sessionId"`
}

func (h *sessionHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetSessions:
		var filter session.Filter
		if len(msg.Data) > 0 {
			if err := decode(msg, &filter); err != nil {
				return nil, err
			}
		}
		sessions, err := h.s.Sessions.ListSessions(ctx, filter)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeSessions, sessions)
	case bus.TypeGetSession:
		var ref sessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		sess, err := h.s.Sessions.GetSession(ctx, ref.Source, ref.SessionID)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeSession, sess)
	case bus.TypeGetSessionMessages:
		var ref sessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		msgs, err := h.s.Sessions.GetMessages(ctx, ref.Source, ref.SessionID)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeSessionMessages, msgs)
	case bus.TypeGetActiveSession:
		sess, err := h.s.Sessions.GetActiveSession(ctx)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeActiveSession, sess)
	case bus.TypeGetSessionDuration:
		var ref sessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		msgs, err := h.s.Sessions.GetMessages(ctx, ref.Source, ref.SessionID)
		if err != nil {
			return nil, err
		}
		return reply(bus.TypeSessionDuration, h.s.Sessions.ComputeDuration(msgs))
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

// syncHandler owns cloud sync operations.
type syncHandler struct{ s *Services }

func (h *syncHandler) Types() []string {
	return []string{bus.TypeSyncSessions, bus.TypeCancelSync, bus.TypeGetSyncStatus}
}

func (h *syncHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeSyncSessions:
		result, err := h.s.Sync.Sync(ctx)
		if err != nil {
			if errors.Is(err, cloudsync.ErrAuth) {
				return nil, &bus.NamedError{Name: "AuthError", Err: err}
			}
			return nil, err
		}
		return reply(bus.TypeSyncCompleted, result)
	case bus.TypeCancelSync:
		h.s.Sync.Cancel()
		return reply(bus.TypeSyncCancelled, nil)
	case bus.TypeGetSyncStatus:
		return reply(bus.TypeSyncStatus, h.s.Sync.Status(ctx))
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}

// detectionHandler owns detection settings and hook installation.
type detectionHandler struct{ s *Services }

func (h *detectionHandler) Types() []string {
	return []string{
		bus.TypeGetDetectionStatus, bus.TypeSetDetectionEnabled,
		bus.TypeInstallHooks, bus.TypeGetConfig, bus.TypeUpdateConfig,
	}
}

func (h *detectionHandler) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Type {
	case bus.TypeGetDetectionStatus:
		det := h.s.Config.Detection()
		return reply(bus.TypeDetectionStatus, map[string]any{
			"enabled": det.Enabled,
			"running": h.s.Detection.Running(),
		})
	case bus.TypeSetDetectionEnabled:
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		det := h.s.Config.Detection()
		det.Enabled = body.Enabled
		if err := h.s.Config.SetDetection(det); err != nil {
			return nil, err
		}
		h.s.Detection.UpdateConfig(ctx, det)
		return reply(bus.TypeDetectionEnabledChanged, body)
	case bus.TypeInstallHooks:
		var body struct {
			ProjectDir string `json:"projectDir"`
			Binary     string `json:"binary"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if body.ProjectDir == "" || body.Binary == "" {
			return nil, invalidInput("projectDir and binary are required")
		}
		if err := hookcfg.InstallClaudeHooks(body.ProjectDir, body.Binary); err != nil {
			return nil, err
		}
		if err := hookcfg.InstallCursorHooks(body.ProjectDir, body.Binary); err != nil {
			return nil, err
		}
		return reply(bus.TypeHooksInstalled, body)
	case bus.TypeGetConfig:
		return reply(bus.TypeConfig, map[string]any{
			"apiUrl":         h.s.Config.APIURL(),
			"activeProvider": h.s.Config.ActiveProvider(),
			"detection":      h.s.Config.Detection(),
		})
	case bus.TypeUpdateConfig:
		var body struct {
			Detection *config.DetectionConfig `json:"detection"`
		}
		if err := decode(msg, &body); err != nil {
			return nil, err
		}
		if body.Detection != nil {
			det := *body.Detection
			det.Normalize()
			if err := h.s.Config.SetDetection(det); err != nil {
				return nil, err
			}
			h.s.Detection.UpdateConfig(ctx, det)
		}
		return reply(bus.TypeConfigChanged, nil)
	}
	return nil, fmt.Errorf("unexpected message %s", msg.Type)
}
