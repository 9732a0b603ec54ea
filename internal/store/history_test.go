package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/devark-ai/devark/internal/kv"
	"github.com/devark-ai/devark/pkg/models"
)

// HistorySuite is a test suite for the prompt history store.
type HistorySuite struct {
	suite.Suite
	kv      *kv.Store
	history *HistoryStore
	ctx     context.Context
	clock   time.Time
}

func (s *HistorySuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.kv, err = kv.OpenMemory(s.ctx)
	s.Require().NoError(err)

	s.clock = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.history = NewHistoryStore(s.kv)
	s.history.now = func() time.Time { return s.clock }
	s.Require().NoError(s.history.Initialize(s.ctx))
}

func (s *HistorySuite) TearDownTest() {
	s.kv.Close()
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistorySuite))
}

func (s *HistorySuite) addPrompt(score float64, ts time.Time) {
	s.Require().NoError(s.history.AddPrompt(s.ctx, models.AnalyzedPrompt{
		ID:        fmt.Sprintf("p-%d-%0.1f", ts.UnixNano(), score),
		Text:      "prompt",
		Score:     score,
		Timestamp: ts,
	}))
}

func (s *HistorySuite) TestAddPrependsNewestFirst() {
	s.addPrompt(5, s.clock)
	s.clock = s.clock.Add(time.Minute)
	s.addPrompt(7, s.clock)

	prompts := s.history.Prompts()
	s.Require().Len(prompts, 2)
	s.Equal(7.0, prompts[0].Score)
	s.Equal(5.0, prompts[1].Score)
}

func (s *HistorySuite) TestFIFOBoundedAtHundred() {
	for i := 0; i < MaxHistory+20; i++ {
		s.clock = s.clock.Add(time.Second)
		s.addPrompt(float64(i%10), s.clock)
	}
	s.Len(s.history.Prompts(), MaxHistory)
}

func (s *HistorySuite) TestInitializePurgesOldEntries() {
	s.addPrompt(6, s.clock.Add(-40*24*time.Hour))
	s.addPrompt(8, s.clock.Add(-time.Hour))

	// Fresh store over the same snapshot purges on load.
	fresh := NewHistoryStore(s.kv)
	fresh.now = func() time.Time { return s.clock }
	s.Require().NoError(fresh.Initialize(s.ctx))

	prompts := fresh.Prompts()
	s.Require().Len(prompts, 1)
	s.Equal(8.0, prompts[0].Score)
}

func (s *HistorySuite) TestDailyStats() {
	s.addPrompt(6, s.clock)
	s.addPrompt(8, s.clock)

	stats := s.history.Stats()
	s.Equal(2, stats.AnalyzedToday)
	s.InDelta(7.0, stats.AvgScore, 0.001)
}

func (s *HistorySuite) TestDailyStatsResetOnNewDay() {
	s.addPrompt(6, s.clock)
	s.Equal(1, s.history.Stats().AnalyzedToday)

	// Roll the calendar over.
	s.clock = s.clock.Add(24 * time.Hour)
	stats := s.history.Stats()
	s.Equal(0, stats.AnalyzedToday)
	s.Equal(0.0, stats.AvgScore)

	s.addPrompt(9, s.clock)
	stats = s.history.Stats()
	s.Equal(1, stats.AnalyzedToday)
	s.InDelta(9.0, stats.AvgScore, 0.001)
}

func (s *HistorySuite) TestStatsSurviveRestart() {
	s.addPrompt(4, s.clock)
	s.addPrompt(6, s.clock)

	fresh := NewHistoryStore(s.kv)
	fresh.now = func() time.Time { return s.clock }
	s.Require().NoError(fresh.Initialize(s.ctx))

	stats := fresh.Stats()
	s.Equal(2, stats.AnalyzedToday)
	s.InDelta(5.0, stats.AvgScore, 0.001)
}

func (s *HistorySuite) TestClearKeepsStats() {
	s.addPrompt(6, s.clock)
	s.Require().NoError(s.history.Clear(s.ctx))

	s.Empty(s.history.Prompts())
	s.Equal(1, s.history.Stats().AnalyzedToday)
}

func (s *HistorySuite) TestChangeCallbackFires() {
	var got []string
	s.history.SetChangeFunc(func(what string) { got = append(got, what) })

	s.addPrompt(5, s.clock)
	s.Require().NoError(s.history.Clear(s.ctx))

	s.Equal([]string{"promptHistory", "promptHistory"}, got)
}
