package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/kv"
	"github.com/devark-ai/devark/pkg/models"
)

const (
	savedKey = "devark.savedPrompts"

	// MaxSaved is the hard cap on saved prompts.
	MaxSaved = 500

	// SavedSoftLimit is where the UI starts warning.
	SavedSoftLimit = 400
)

// ErrQuotaExceeded is returned when the saved-prompts cap is reached.
var ErrQuotaExceeded = errors.New("saved prompts limit reached")

// ErrNotFound is returned for operations on unknown prompt IDs.
var ErrNotFound = errors.New("saved prompt not found")

// SavedStore keeps the user's prompt library.
type SavedStore struct {
	kv       *kv.Store
	onChange ChangeFunc
	now      func() time.Time

	mu      sync.Mutex
	prompts []models.SavedPrompt
}

// NewSavedStore creates a saved-prompt store over the given snapshot store.
func NewSavedStore(store *kv.Store) *SavedStore {
	return &SavedStore{kv: store, now: time.Now}
}

// SetChangeFunc registers the invalidation callback.
func (s *SavedStore) SetChangeFunc(fn ChangeFunc) { s.onChange = fn }

// Initialize loads the snapshot into memory.
func (s *SavedStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kv.Get(ctx, savedKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &s.prompts); err != nil {
		log.Warn().Err(err).Msg("Saved prompts snapshot unparsable, starting empty")
		s.prompts = nil
	}
	return nil
}

// Save stores a new prompt. Returns ErrQuotaExceeded at the hard cap and the
// stored prompt (with generated ID and timestamps) on success.
func (s *SavedStore) Save(ctx context.Context, p models.SavedPrompt) (models.SavedPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.prompts) >= MaxSaved {
		return models.SavedPrompt{}, ErrQuotaExceeded
	}

	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt = now
	p.LastModifiedAt = now

	s.prompts = append([]models.SavedPrompt{p}, s.prompts...)
	if err := s.flushLocked(ctx); err != nil {
		return models.SavedPrompt{}, err
	}
	s.notify("savedPrompts")
	return p, nil
}

// Update replaces text, tags, and folder of an existing prompt.
func (s *SavedStore) Update(ctx context.Context, p models.SavedPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.prompts {
		if s.prompts[i].ID != p.ID {
			continue
		}
		p.CreatedAt = s.prompts[i].CreatedAt
		p.LastModifiedAt = s.now()
		s.prompts[i] = p
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
		s.notify("savedPrompts")
		return nil
	}
	return ErrNotFound
}

// Delete removes a prompt by ID.
func (s *SavedStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.prompts {
		if s.prompts[i].ID != id {
			continue
		}
		s.prompts = append(s.prompts[:i], s.prompts[i+1:]...)
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
		s.notify("savedPrompts")
		return nil
	}
	return ErrNotFound
}

// All returns every saved prompt, newest first.
func (s *SavedStore) All() []models.SavedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SavedPrompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// Count returns the number of saved prompts.
func (s *SavedStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// NearQuota reports whether the soft warning threshold has been reached.
func (s *SavedStore) NearQuota() bool {
	return s.Count() >= SavedSoftLimit
}

// ByTag returns prompts carrying the given tag (exact match).
func (s *SavedStore) ByTag(tag string) []models.SavedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SavedPrompt
	for _, p := range s.prompts {
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ByFolder returns prompts in the given folder.
func (s *SavedStore) ByFolder(folder string) []models.SavedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SavedPrompt
	for _, p := range s.prompts {
		if p.Folder == folder {
			out = append(out, p)
		}
	}
	return out
}

// Folders returns the distinct folder names, sorted.
func (s *SavedStore) Folders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, p := range s.prompts {
		if p.Folder != "" {
			seen[p.Folder] = true
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Search returns prompts whose text, name, or any tag contains the query,
// case-insensitively.
func (s *SavedStore) Search(query string) []models.SavedPrompt {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.All()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SavedPrompt
	for _, p := range s.prompts {
		if strings.Contains(strings.ToLower(p.Text), q) ||
			strings.Contains(strings.ToLower(p.Name), q) ||
			anyTagContains(p.Tags, q) {
			out = append(out, p)
		}
	}
	return out
}

func anyTagContains(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

func (s *SavedStore) flushLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.prompts)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, savedKey, string(raw))
}

func (s *SavedStore) notify(what string) {
	if s.onChange != nil {
		s.onChange(what)
	}
}
