package hookio

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devark-ai/devark/internal/detect"
)

const promptPayload = `{"session_id":"sess-1","cwd":"/home/dev/myapp","prompt":"Fix the login bug","hook_event_name":"UserPromptSubmit"}`

func queueLines(t *testing.T, path string) []detect.QueueLine {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []detect.QueueLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec detect.QueueLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	return lines
}

func TestRunAppendsPromptSubmission(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "queue", "claude-events.jsonl")

	var out strings.Builder
	err := Run("UserPromptSubmit", queue, strings.NewReader(promptPayload), &out)
	require.NoError(t, err)

	lines := queueLines(t, queue)
	require.Len(t, lines, 1)
	assert.Equal(t, "sess-1", lines[0].SessionID)
	assert.Equal(t, "/home/dev/myapp", lines[0].CWD)
	assert.Equal(t, "Fix the login bug", lines[0].Prompt)
	assert.Equal(t, "UserPromptSubmit", lines[0].Trigger)
	assert.False(t, lines[0].Timestamp.IsZero())

	// The editor contract: {"continue": true} on stdout, always.
	assert.JSONEq(t, `{"continue":true}`, strings.TrimSpace(out.String()))
}

func TestRunTriggerFallsBackToPayloadEvent(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "q.jsonl")

	var out strings.Builder
	require.NoError(t, Run("", queue, strings.NewReader(promptPayload), &out))
	assert.Len(t, queueLines(t, queue), 1)
}

func TestRunStopTriggerWritesNothing(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "q.jsonl")

	var out strings.Builder
	payload := `{"session_id":"sess-1","cwd":"/home/dev/myapp","hook_event_name":"Stop"}`
	require.NoError(t, Run("Stop", queue, strings.NewReader(payload), &out))

	_, err := os.Stat(queue)
	assert.True(t, os.IsNotExist(err))
	assert.JSONEq(t, `{"continue":true}`, strings.TrimSpace(out.String()))
}

func TestRunEmptyPromptWritesNothing(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "q.jsonl")

	var out strings.Builder
	payload := `{"session_id":"sess-1","prompt":"","hook_event_name":"UserPromptSubmit"}`
	require.NoError(t, Run("UserPromptSubmit", queue, strings.NewReader(payload), &out))

	_, err := os.Stat(queue)
	assert.True(t, os.IsNotExist(err))
}

func TestRunMalformedPayloadStillContinues(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "q.jsonl")

	var out strings.Builder
	err := Run("UserPromptSubmit", queue, strings.NewReader("not json"), &out)
	assert.Error(t, err)
	assert.JSONEq(t, `{"continue":true}`, strings.TrimSpace(out.String()))
}

func TestRunAppendsAcrossInvocations(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "q.jsonl")

	var out strings.Builder
	require.NoError(t, Run("UserPromptSubmit", queue, strings.NewReader(promptPayload), &out))
	second := `{"session_id":"sess-1","cwd":"/home/dev/myapp","prompt":"Add a test","hook_event_name":"UserPromptSubmit"}`
	require.NoError(t, Run("UserPromptSubmit", queue, strings.NewReader(second), &out))

	lines := queueLines(t, queue)
	require.Len(t, lines, 2)
	assert.Equal(t, "Add a test", lines[1].Prompt)
}

func TestProjectID(t *testing.T) {
	id := ProjectID("/home/dev/myapp")
	assert.True(t, strings.HasPrefix(id, "myapp_"), id)
	assert.Len(t, id, len("myapp_")+6)

	// Stable for the same path, distinct for different paths.
	assert.Equal(t, id, ProjectID("/home/dev/myapp"))
	assert.NotEqual(t, id, ProjectID("/home/dev/otherapp"))
}
