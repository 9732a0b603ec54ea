// Package models contains domain models for devark.
package models

import (
	"math"
	"time"
)

// Score dimension weights for the V2 breakdown. They sum to 1.0.
const (
	WeightSpecificity   = 0.20
	WeightContext       = 0.25
	WeightIntent        = 0.25
	WeightActionability = 0.15
	WeightConstraints   = 0.15
)

// DimensionScore is one scored dimension of a prompt.
type DimensionScore struct {
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Feedback string  `json:"feedback,omitempty"`
}

// ScoreBreakdown is the V2 five-dimension score breakdown.
type ScoreBreakdown struct {
	Specificity   DimensionScore `json:"specificity"`
	Context       DimensionScore `json:"context"`
	Intent        DimensionScore `json:"intent"`
	Actionability DimensionScore `json:"actionability"`
	Constraints   DimensionScore `json:"constraints"`
}

// WeightedScore returns the weighted sum of all dimensions, rounded to one decimal.
func (b *ScoreBreakdown) WeightedScore() float64 {
	sum := b.Specificity.Score*b.Specificity.Weight +
		b.Context.Score*b.Context.Weight +
		b.Intent.Score*b.Intent.Weight +
		b.Actionability.Score*b.Actionability.Weight +
		b.Constraints.Score*b.Constraints.Weight
	return math.Round(sum*10) / 10
}

// CategoryScores is the legacy four-category score set.
type CategoryScores struct {
	Clarity       float64 `json:"clarity"`
	Specificity   float64 `json:"specificity"`
	Context       float64 `json:"context"`
	Actionability float64 `json:"actionability"`
}

// AnalyzedPrompt is a user prompt annotated with its score.
type AnalyzedPrompt struct {
	ID             string          `json:"id"`
	Text           string          `json:"text"`
	TruncatedText  string          `json:"truncatedText"`
	Score          float64         `json:"score"`
	Timestamp      time.Time       `json:"timestamp"`
	CategoryScores *CategoryScores `json:"categoryScores,omitempty"`
	Breakdown      *ScoreBreakdown `json:"breakdown,omitempty"`
	ImprovedText   string          `json:"improvedVersion,omitempty"`
	ImprovedScore  float64         `json:"improvedScore,omitempty"`
	Source         Source          `json:"source,omitempty"`
	SessionID      string          `json:"sessionId,omitempty"`
}

// SavedPrompt is a user-curated prompt kept in the library.
type SavedPrompt struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Name           string    `json:"name,omitempty"`
	Tags           []string  `json:"tags"`
	Folder         string    `json:"folder,omitempty"`
	ProjectID      *string   `json:"projectId"` // nil means global
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// DailyStats tracks per-day analysis goals.
type DailyStats struct {
	AnalyzedToday int       `json:"analyzedToday"`
	AvgScore      float64   `json:"avgScore"`
	LastResetDate time.Time `json:"lastResetDate"`
}

// SameCalendarDay reports whether two times fall on the same local calendar day.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
