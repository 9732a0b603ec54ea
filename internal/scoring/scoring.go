// Package scoring turns detected prompts into five-dimension quality scores
// through the configured LLM provider, with a fingerprint cache in front.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/devark-ai/devark/internal/promptutil"
	"github.com/devark-ai/devark/internal/provider"
	"github.com/devark-ai/devark/pkg/models"
)

const (
	// cacheSize and cacheTTL bound the fingerprint cache.
	cacheSize = 1000
	cacheTTL  = 7 * 24 * time.Hour

	// maxPromptTokens truncates oversized prompts before they reach the
	// provider.
	maxPromptTokens = 2048

	// maxFeedbackLen caps narrative fields from the model.
	maxFeedbackLen = 280

	generateTemperature = 0.2
	generateMaxTokens   = 512

	// improveTemperature is higher than scoring's; rewriting benefits from
	// some variation.
	improveTemperature = 0.7
)

// ErrAnalysisFailed is returned when the provider's output could not be
// parsed even after the stricter retry. No score is persisted.
var ErrAnalysisFailed = errors.New("prompt analysis failed")

// errUnparsable marks replies the rubric parser could not handle. Only
// these trigger the stricter-reminder retry; provider transport failures
// surface after a single call.
var errUnparsable = errors.New("unparsable scoring reply")

var meter = otel.Meter("github.com/devark-ai/devark/internal/scoring")

// Generator is the completion surface the scorer calls. The provider
// registry satisfies it.
type Generator interface {
	Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error)
}

// Scorer runs the rubric against prompts and memoizes results by
// fingerprint.
type Scorer struct {
	gen   Generator
	cache *expirable.LRU[string, models.AnalyzedPrompt]
	now   func() time.Time

	scoresComputed metric.Int64Counter
	cacheHits      metric.Int64Counter
	analysisFailed metric.Int64Counter
}

// New creates a scorer over the given generator.
func New(gen Generator) *Scorer {
	s := &Scorer{
		gen:   gen,
		cache: expirable.NewLRU[string, models.AnalyzedPrompt](cacheSize, nil, cacheTTL),
		now:   time.Now,
	}
	s.scoresComputed, _ = meter.Int64Counter("devark.scoring.computed")
	s.cacheHits, _ = meter.Int64Counter("devark.scoring.cache_hits")
	s.analysisFailed, _ = meter.Int64Counter("devark.scoring.failed")
	return s
}

// Score analyzes one prompt. Identical prompts (after whitespace
// normalization) return the cached result without a provider call.
func (s *Scorer) Score(ctx context.Context, ev models.PromptDetectedEvent) (*models.AnalyzedPrompt, error) {
	fp := promptutil.Fingerprint(ev.Text)
	if cached, ok := s.cache.Get(fp); ok {
		s.cacheHits.Add(ctx, 1)
		return &cached, nil
	}

	truncated := promptutil.TruncateTokens(ev.Text, maxPromptTokens)

	breakdown, err := s.generateBreakdown(ctx, truncated, rubricSystemPrompt)
	if errors.Is(err, errUnparsable) {
		log.Debug().Err(err).Msg("Scoring parse failed, retrying with strict reminder")
		breakdown, err = s.generateBreakdown(ctx, truncated, rubricSystemPrompt+strictReminder)
	}
	if err != nil {
		s.analysisFailed.Add(ctx, 1)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	analyzed := models.AnalyzedPrompt{
		ID:            uuid.NewString(),
		Text:          ev.Text,
		TruncatedText: truncated,
		Score:         breakdown.WeightedScore(),
		Timestamp:     s.now(),
		Breakdown:     breakdown,
		Source:        ev.Source,
		SessionID:     ev.SessionID,
	}
	s.cache.Add(fp, analyzed)
	s.scoresComputed.Add(ctx, 1)
	return &analyzed, nil
}

// Improve scores the prompt, asks the provider for a rewrite, scores the
// rewrite, and returns the analysis with ImprovedText and ImprovedScore
// filled in. The cached entry is updated so repeat requests skip the
// provider entirely.
func (s *Scorer) Improve(ctx context.Context, ev models.PromptDetectedEvent) (*models.AnalyzedPrompt, error) {
	analyzed, err := s.Score(ctx, ev)
	if err != nil {
		return nil, err
	}
	if analyzed.ImprovedText != "" {
		return analyzed, nil
	}

	res, err := s.gen.Generate(ctx, provider.GenerateRequest{
		System:      improveSystemPrompt,
		User:        analyzed.TruncatedText,
		Temperature: improveTemperature,
		MaxTokens:   generateMaxTokens,
	})
	if err != nil {
		s.analysisFailed.Add(ctx, 1)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	improved := strings.TrimSpace(res.Text)
	if improved == "" {
		s.analysisFailed.Add(ctx, 1)
		return nil, fmt.Errorf("%w: empty rewrite", ErrAnalysisFailed)
	}

	breakdown, err := s.generateBreakdown(ctx, improved, rubricSystemPrompt)
	if errors.Is(err, errUnparsable) {
		breakdown, err = s.generateBreakdown(ctx, improved, rubricSystemPrompt+strictReminder)
	}
	if err != nil {
		s.analysisFailed.Add(ctx, 1)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	analyzed.ImprovedText = improved
	analyzed.ImprovedScore = breakdown.WeightedScore()
	s.cache.Add(promptutil.Fingerprint(ev.Text), *analyzed)
	return analyzed, nil
}

func (s *Scorer) generateBreakdown(ctx context.Context, prompt, system string) (*models.ScoreBreakdown, error) {
	res, err := s.gen.Generate(ctx, provider.GenerateRequest{
		System:      system,
		User:        prompt,
		Temperature: generateTemperature,
		MaxTokens:   generateMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parseBreakdown(res.Text)
}

// rawDimension matches one dimension object in the model's reply.
type rawDimension struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

type rawBreakdown struct {
	Specificity   rawDimension `json:"specificity"`
	Context       rawDimension `json:"context"`
	Intent        rawDimension `json:"intent"`
	Actionability rawDimension `json:"actionability"`
	Constraints   rawDimension `json:"constraints"`
}

// parseBreakdown defensively extracts the JSON object from the reply,
// clamps every dimension to [0, 10], and attaches the fixed weights.
func parseBreakdown(reply string) (*models.ScoreBreakdown, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", errUnparsable)
	}

	var raw rawBreakdown
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed scoring JSON: %v", errUnparsable, err)
	}

	return &models.ScoreBreakdown{
		Specificity:   dimension(raw.Specificity, models.WeightSpecificity),
		Context:       dimension(raw.Context, models.WeightContext),
		Intent:        dimension(raw.Intent, models.WeightIntent),
		Actionability: dimension(raw.Actionability, models.WeightActionability),
		Constraints:   dimension(raw.Constraints, models.WeightConstraints),
	}, nil
}

func dimension(raw rawDimension, weight float64) models.DimensionScore {
	score := raw.Score
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	feedback := promptutil.TruncateRunes(strings.TrimSpace(raw.Feedback), maxFeedbackLen)
	return models.DimensionScore{Score: score, Weight: weight, Feedback: feedback}
}

// extractJSON returns the outermost {...} span, tolerating code fences and
// prose around the object.
func extractJSON(reply string) string {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return ""
	}
	return reply[start : end+1]
}
