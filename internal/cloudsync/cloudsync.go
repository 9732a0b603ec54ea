// Package cloudsync uploads recent sessions to the devark backend. Uploads
// are idempotent: the backend's known-sessions query is keyed by
// (source, sessionId, lastMessageHash), so unchanged sessions are skipped.
package cloudsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/devark-ai/devark/internal/duration"
	"github.com/devark-ai/devark/internal/session"
	"github.com/devark-ai/devark/pkg/models"
)

const (
	// perSessionTimeout bounds one upload; a session that started uploading
	// runs to completion even after Cancel.
	perSessionTimeout = 30 * time.Second

	// statusCacheTTL keeps repeat status reads during UI refreshes from
	// touching the backend.
	statusCacheTTL = 10 * time.Second
)

// State is the sync status machine.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StatePartial State = "partial"
	StateFailed  State = "failed"
)

// ErrAuth marks missing or rejected credentials; callers surface a reauth
// prompt rather than retrying.
var ErrAuth = errors.New("authentication required")

// ErrSyncInProgress rejects a second concurrent sync.
var ErrSyncInProgress = errors.New("sync already in progress")

var meter = otel.Meter("github.com/devark-ai/devark/internal/cloudsync")

// TokenSource yields the backend bearer token. The vault satisfies it.
type TokenSource interface {
	GetToken() (string, bool)
}

// SessionSource yields sync candidates. The session aggregator satisfies it.
type SessionSource interface {
	ListSessions(ctx context.Context, filter session.Filter) ([]models.Session, error)
	GetMessages(ctx context.Context, source models.Source, id string) ([]models.Message, error)
}

// SessionFailure is one per-session upload failure.
type SessionFailure struct {
	Source    models.Source `json:"source"`
	SessionID string        `json:"sessionId"`
	Message   string        `json:"message"`
}

// Result summarizes one sync batch.
type Result struct {
	Success          bool             `json:"success"`
	SessionsUploaded int              `json:"sessionsUploaded"`
	SessionsSkipped  int              `json:"sessionsSkipped"`
	Failures         []SessionFailure `json:"failures,omitempty"`
	CompletedAt      time.Time        `json:"completedAt"`
}

// Progress reports one session's outcome while a batch runs.
type Progress struct {
	Source    models.Source `json:"source"`
	SessionID string        `json:"sessionId"`
	Index     int           `json:"index"`
	Total     int           `json:"total"`
	Uploaded  bool          `json:"uploaded"`
	Error     string        `json:"error,omitempty"`
}

// Status is the answer to getSyncStatus.
type Status struct {
	State      State     `json:"state"`
	LastResult *Result   `json:"lastResult,omitempty"`
	LastSyncAt time.Time `json:"lastSyncAt,omitempty"`
}

// Client drives sync batches against the backend.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	sessions SessionSource
	rules    func() (Rules, error)
	now      func() time.Time

	mu         sync.Mutex
	state      State
	stateAt    time.Time
	lastResult *Result
	lastSyncAt time.Time
	statusAt   time.Time
	cancelled  bool

	onProgress func(Progress)
	onReauth   func()

	uploads metric.Int64Counter
}

// New creates a sync client. rules may be nil to always use the defaults.
func New(baseURL string, tokens TokenSource, sessions SessionSource, rules func() (Rules, error)) *Client {
	if rules == nil {
		rules = func() (Rules, error) { return DefaultRules(), nil }
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{},
		tokens:   tokens,
		sessions: sessions,
		rules:    rules,
		now:      time.Now,
		state:    StateIdle,
	}
	c.uploads, _ = meter.Int64Counter("devark.sync.uploads")
	return c
}

// OnProgress registers the per-session progress callback.
func (c *Client) OnProgress(fn func(Progress)) { c.onProgress = fn }

// OnReauthRequired registers the callback fired when the backend rejects
// the token.
func (c *Client) OnReauthRequired(fn func()) { c.onReauth = fn }

// Cancel stops the running batch between sessions. The in-flight session
// upload runs to completion to preserve backend idempotency.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSyncing {
		c.cancelled = true
	}
}

// candidate pairs a session with its content hash and payload.
type candidate struct {
	session  models.Session
	messages []models.Message
	hash     string
}

// Sync runs one batch: list candidates, ask the backend which it already
// knows, upload the rest. Per-session failures do not abort the batch.
func (c *Client) Sync(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.state == StateSyncing {
		c.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	c.state = StateSyncing
	c.cancelled = false
	c.mu.Unlock()

	result, err := c.run(ctx)

	c.mu.Lock()
	switch {
	case err != nil:
		c.state = StateFailed
	case len(result.Failures) == 0:
		c.state = StateSuccess
	case result.SessionsUploaded > 0:
		c.state = StatePartial
	default:
		c.state = StateFailed
	}
	if result != nil {
		c.lastResult = result
		c.lastSyncAt = result.CompletedAt
	}
	c.stateAt = c.now()
	c.statusAt = time.Time{}
	c.mu.Unlock()

	return result, err
}

func (c *Client) run(ctx context.Context) (*Result, error) {
	token, ok := c.tokens.GetToken()
	if !ok {
		c.fireReauth()
		return nil, ErrAuth
	}

	rules, err := c.rules()
	if err != nil {
		return nil, fmt.Errorf("load sync rules: %w", err)
	}

	candidates, err := c.collectCandidates(ctx, rules)
	if err != nil {
		return nil, err
	}

	known, err := c.querySessions(ctx, token, candidates)
	if err != nil {
		// A 401 here means the token expired since the last sync; the UI
		// must get the same reauth signal as the missing-token path.
		if errors.Is(err, ErrAuth) {
			c.fireReauth()
		}
		return nil, err
	}

	result := &Result{}
	var pending []candidate
	for _, cand := range candidates {
		if known[cand.session.Key()+":"+cand.hash] {
			result.SessionsSkipped++
			continue
		}
		pending = append(pending, cand)
	}
	total := len(pending)

	for i, cand := range pending {
		c.mu.Lock()
		cancelled := c.cancelled
		c.mu.Unlock()
		if cancelled || ctx.Err() != nil {
			log.Info().Int("remaining", total-i).Msg("Sync cancelled between sessions")
			break
		}

		err := c.uploadSession(token, cand)
		p := Progress{
			Source:    cand.session.Source,
			SessionID: cand.session.SessionID,
			Index:     i + 1,
			Total:     total,
			Uploaded:  err == nil,
		}
		if err != nil {
			if errors.Is(err, ErrAuth) {
				c.fireReauth()
				result.CompletedAt = c.now()
				return result, err
			}
			p.Error = err.Error()
			result.Failures = append(result.Failures, SessionFailure{
				Source:    cand.session.Source,
				SessionID: cand.session.SessionID,
				Message:   err.Error(),
			})
			log.Warn().Str("sessionId", cand.session.SessionID).Err(err).Msg("Session upload failed")
		} else {
			result.SessionsUploaded++
			c.uploads.Add(ctx, 1)
		}
		if c.onProgress != nil {
			c.onProgress(p)
		}
	}

	result.Success = len(result.Failures) == 0
	result.CompletedAt = c.now()
	return result, nil
}

// collectCandidates lists sessions passing the rules and computes their
// content hashes.
func (c *Client) collectCandidates(ctx context.Context, rules Rules) ([]candidate, error) {
	sessions, err := c.sessions.ListSessions(ctx, session.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := c.now().AddDate(0, 0, -rules.Days)
	var out []candidate
	for _, s := range sessions {
		if s.LastActivity.Before(cutoff) || !rules.allowsProject(s.WorkspaceName) {
			continue
		}
		msgs, err := c.sessions.GetMessages(ctx, s.Source, s.SessionID)
		if err != nil {
			log.Warn().Str("sessionId", s.SessionID).Err(err).Msg("Skipping unreadable session")
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		out = append(out, candidate{session: s, messages: msgs, hash: LastMessageHash(msgs)})
	}
	return out, nil
}

// LastMessageHash fingerprints a session's content by its final message.
func LastMessageHash(msgs []models.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	last := msgs[len(msgs)-1]
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", last.ID, last.Content, last.Timestamp.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// knownSessionsRequest asks the backend which (source, sessionId, hash)
// triples it has already stored.
type knownSessionsRequest struct {
	Sessions []knownSessionKey `json:"sessions"`
}

type knownSessionKey struct {
	Source          models.Source `json:"source"`
	SessionID       string        `json:"sessionId"`
	LastMessageHash string        `json:"lastMessageHash"`
}

type knownSessionsResponse struct {
	Known []knownSessionKey `json:"known"`
}

func (c *Client) querySessions(ctx context.Context, token string, candidates []candidate) (map[string]bool, error) {
	if len(candidates) == 0 {
		return map[string]bool{}, nil
	}

	req := knownSessionsRequest{}
	for _, cand := range candidates {
		req.Sessions = append(req.Sessions, knownSessionKey{
			Source:          cand.session.Source,
			SessionID:       cand.session.SessionID,
			LastMessageHash: cand.hash,
		})
	}

	var resp knownSessionsResponse
	if err := c.post(ctx, token, "/api/sessions/known", req, &resp); err != nil {
		return nil, fmt.Errorf("known-sessions query: %w", err)
	}

	known := map[string]bool{}
	for _, k := range resp.Known {
		known[string(k.Source)+":"+k.SessionID+":"+k.LastMessageHash] = true
	}
	return known, nil
}

// uploadPayload is one session upload.
type uploadPayload struct {
	Session         models.Session   `json:"session"`
	Messages        []models.Message `json:"messages"`
	LastMessageHash string           `json:"lastMessageHash"`
	Duration        duration.Result  `json:"duration"`
}

// uploadSession posts one session with its own timeout, detached from the
// batch cancellation so a started upload finishes.
func (c *Client) uploadSession(token string, cand candidate) error {
	ctx, cancel := context.WithTimeout(context.Background(), perSessionTimeout)
	defer cancel()

	times := make([]time.Time, len(cand.messages))
	for i := range cand.messages {
		times[i] = cand.messages[i].Timestamp
	}
	payload := uploadPayload{
		Session:         cand.session,
		Messages:        cand.messages,
		LastMessageHash: cand.hash,
		Duration:        duration.Calculate(times),
	}
	return c.post(ctx, token, "/api/sessions", payload, nil)
}

func (c *Client) post(ctx context.Context, token, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuth
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("backend %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) fireReauth() {
	if c.onReauth != nil {
		c.onReauth()
	}
}

// Status reports the current sync state. Terminal states relax back to idle
// after the cache TTL, and the remote last-sync timestamp is cached for the
// same window.
func (c *Client) Status(ctx context.Context) Status {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateSyncing && c.now().Sub(c.stateAt) > statusCacheTTL {
		c.state = StateIdle
	}
	st := Status{State: c.state, LastResult: c.lastResult, LastSyncAt: c.lastSyncAt}
	fresh := !c.statusAt.IsZero() && c.now().Sub(c.statusAt) <= statusCacheTTL
	c.mu.Unlock()
	if fresh || st.State == StateSyncing {
		return st
	}

	if remote, err := c.fetchRemoteStatus(ctx); err == nil && !remote.IsZero() {
		c.mu.Lock()
		if remote.After(c.lastSyncAt) {
			c.lastSyncAt = remote
		}
		c.statusAt = c.now()
		st.LastSyncAt = c.lastSyncAt
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.statusAt = c.now()
		c.mu.Unlock()
	}
	return st
}

func (c *Client) fetchRemoteStatus(ctx context.Context) (time.Time, error) {
	token, ok := c.tokens.GetToken()
	if !ok {
		return time.Time{}, ErrAuth
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sync/status", nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("backend %s", resp.Status)
	}

	var body struct {
		LastSyncAt time.Time `json:"lastSyncAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, err
	}
	return body.LastSyncAt, nil
}
