package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devark-ai/devark/pkg/models"
)

func TestClaudeHandleLine(t *testing.T) {
	a := NewClaudeAdapter(filepath.Join(t.TempDir(), "queue.jsonl"), nil)
	var got []models.PromptDetectedEvent
	a.OnPrompt(func(ev models.PromptDetectedEvent) { got = append(got, ev) })

	a.handleLine(`{"sessionId":"s1","cwd":"/home/user/app","prompt":"Fix the bug","timestamp":"2025-06-15T12:00:00Z","trigger":"UserPromptSubmit"}`)
	require.Len(t, got, 1)
	assert.Equal(t, models.SourceClaude, got[0].Source)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, "Fix the bug", got[0].Text)
	assert.Equal(t, "/home/user/app", got[0].Context["cwd"])
	assert.Equal(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), got[0].Timestamp)

	// Stop-trigger lines mark turn boundaries, not prompts.
	a.handleLine(`{"sessionId":"s1","trigger":"Stop"}`)
	assert.Len(t, got, 1)

	// Malformed and empty lines are skipped.
	a.handleLine(`{not json`)
	a.handleLine("")
	assert.Len(t, got, 1)
}

func TestClaudeInitializeCreatesQueueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.jsonl")
	a := NewClaudeAdapter(path, nil)

	assert.False(t, a.IsAvailable())
	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsAvailable())
}

func TestClaudeInstallerRunsOnceOnFirstStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	installs := 0
	a := NewClaudeAdapter(path, func() error { installs++; return nil })
	a.OnPrompt(func(models.PromptDetectedEvent) {})
	require.NoError(t, a.Initialize(context.Background()))

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Stop())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Stop())
	assert.Equal(t, 1, installs)
}

func TestClaudeTailEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	a := NewClaudeAdapter(path, nil)
	require.NoError(t, a.Initialize(context.Background()))

	events := make(chan models.PromptDetectedEvent, 4)
	a.OnPrompt(func(ev models.PromptDetectedEvent) { events <- ev })
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	// Give the tail a moment to attach at EOF before appending.
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"sessionId":"s1","prompt":"Add tests","trigger":"UserPromptSubmit"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-events:
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, "Add tests", ev.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received from queue tail")
	}
}
