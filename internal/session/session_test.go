package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devark-ai/devark/pkg/models"
)

// fakeSource is a scripted SourceReader.
type fakeSource struct {
	sessions []models.Session
	messages map[string][]models.Message
	err      error
	calls    int
}

func (f *fakeSource) Sessions(_ context.Context) ([]models.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions, nil
}

func (f *fakeSource) SessionByID(_ context.Context, id string) (*models.Session, error) {
	for i := range f.sessions {
		if f.sessions[i].SessionID == id {
			return &f.sessions[i], nil
		}
	}
	return nil, nil
}

func (f *fakeSource) Messages(_ context.Context, id string) ([]models.Message, error) {
	return f.messages[id], nil
}

func session(source models.Source, id string, last time.Time) models.Session {
	return models.Session{
		SessionID:    id,
		Source:       source,
		StartTime:    last.Add(-time.Hour),
		LastActivity: last,
	}
}

func testAggregator(cursor, claude *fakeSource) (*Aggregator, time.Time) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(map[models.Source]SourceReader{
		models.SourceCursor: cursor,
		models.SourceClaude: claude,
	})
	a.now = func() time.Time { return now }
	return a, now
}

func TestListSessions_MergedAndSorted(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{sessions: []models.Session{
		session(models.SourceCursor, "c1", now.Add(-time.Minute)),
		session(models.SourceCursor, "c2", now.Add(-3*time.Hour)),
	}}
	claude := &fakeSource{sessions: []models.Session{
		session(models.SourceClaude, "s1", now.Add(-time.Hour)),
	}}
	a, _ := testAggregator(cursor, claude)

	sessions, err := a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "c1", sessions[0].SessionID)
	assert.Equal(t, "s1", sessions[1].SessionID)
	assert.Equal(t, "c2", sessions[2].SessionID)
}

func TestListSessions_DedupeByIdentity(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{sessions: []models.Session{
		session(models.SourceCursor, "dup", now.Add(-time.Minute)),
		session(models.SourceCursor, "dup", now.Add(-time.Hour)),
	}}
	a, _ := testAggregator(cursor, &fakeSource{})

	sessions, err := a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, now.Add(-time.Minute), sessions[0].LastActivity)
}

func TestListSessions_SourceFilter(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{sessions: []models.Session{session(models.SourceCursor, "c1", now)}}
	claude := &fakeSource{sessions: []models.Session{session(models.SourceClaude, "s1", now)}}
	a, _ := testAggregator(cursor, claude)

	sessions, err := a.ListSessions(context.Background(), Filter{Source: models.SourceClaude})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].SessionID)
}

func TestListSessions_SourceErrorDegrades(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{err: errors.New("db locked")}
	claude := &fakeSource{sessions: []models.Session{session(models.SourceClaude, "s1", now)}}
	a, _ := testAggregator(cursor, claude)

	sessions, err := a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].SessionID)
}

func TestSnapshotMemoization(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := now
	cursor := &fakeSource{sessions: []models.Session{session(models.SourceCursor, "c1", now)}}
	a, _ := testAggregator(cursor, &fakeSource{})
	a.now = func() time.Time { return clock }

	_, err := a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	_, err = a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, cursor.calls)

	clock = clock.Add(2 * time.Second)
	_, err = a.ListSessions(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, cursor.calls)
}

func TestGetActiveSession(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{sessions: []models.Session{
		session(models.SourceCursor, "recent", now.Add(-2*time.Minute)),
		session(models.SourceCursor, "stale", now.Add(-time.Hour)),
	}}
	a, _ := testAggregator(cursor, &fakeSource{})

	active, err := a.GetActiveSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "recent", active.SessionID)
}

func TestGetActiveSession_NoneWithinWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := &fakeSource{sessions: []models.Session{
		session(models.SourceCursor, "stale", now.Add(-10*time.Minute)),
	}}
	a, _ := testAggregator(cursor, &fakeSource{})

	active, err := a.GetActiveSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGetMessagesAndUnknownSource(t *testing.T) {
	msgs := []models.Message{{ID: "m1", Role: models.RoleUser, Content: "hi"}}
	cursor := &fakeSource{messages: map[string][]models.Message{"c1": msgs}}
	a, _ := testAggregator(cursor, &fakeSource{})

	got, err := a.GetMessages(context.Background(), models.SourceCursor, "c1")
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	none, err := a.GetMessages(context.Background(), "ghost", "c1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestComputeDuration(t *testing.T) {
	base := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	var msgs []models.Message
	for _, offset := range []time.Duration{0, 3 * time.Minute, 13 * time.Minute, 43 * time.Minute} {
		msgs = append(msgs, models.Message{Timestamp: base.Add(offset)})
	}
	a, _ := testAggregator(&fakeSource{}, &fakeSource{})

	r := a.ComputeDuration(msgs)
	assert.Equal(t, 780, r.DurationSeconds)
	assert.Equal(t, 2, r.ActiveGaps)
	assert.Equal(t, 1, r.IdleGaps)
}
