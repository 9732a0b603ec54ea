package promptutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsActualUserPrompt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "empty", input: "", want: false},
		{name: "whitespace only", input: "   ", want: false},
		{name: "tool result marker", input: "[Tool result]", want: false},
		{name: "tool marker with name", input: "[Tool: Read]", want: false},
		{name: "tool marker with trailing space", input: "  [Tool result]  ", want: false},
		{name: "tool marker followed by text", input: "[Tool: X] please explain", want: true},
		{name: "plain prompt", input: "Fix the login bug", want: true},
		{name: "bracketed but not tool", input: "[note] check this", want: true},
		{name: "newlines only", input: "\n\n\t", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActualUserPrompt(tt.input))
		})
	}
}

func TestDetectSlashCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNil  bool
		wantName string
		wantArgs string
	}{
		{name: "simple", input: "/x", wantName: "x"},
		{name: "with args", input: "/commit -m fix", wantName: "commit", wantArgs: "-m fix"},
		{name: "namespaced", input: "/mcp:server:tool run it", wantName: "mcp:server:tool", wantArgs: "run it"},
		{name: "leading whitespace", input: "  /help  ", wantName: "help"},
		{name: "hyphen and underscore in name", input: "/re-run_all", wantName: "re-run_all"},
		{name: "bare slash", input: "/", wantNil: true},
		{name: "double slash", input: "//x", wantNil: true},
		{name: "space after slash", input: "/ x", wantNil: true},
		{name: "leading digit", input: "/123x", wantNil: true},
		{name: "leading hyphen", input: "/-x", wantNil: true},
		{name: "leading underscore", input: "/_x", wantNil: true},
		{name: "not a command", input: "deploy /app to prod", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := DetectSlashCommand(tt.input)
			if tt.wantNil {
				assert.Nil(t, cmd)
				return
			}
			require.NotNil(t, cmd)
			assert.Equal(t, tt.wantName, cmd.Name)
			assert.Equal(t, tt.wantArgs, cmd.Arguments)
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Fix bug", Normalize(" Fix  bug "))
	assert.Equal(t, "a b c", Normalize("a\n b\t\tc\n"))
	assert.Equal(t, "", Normalize("   "))
}

func TestFingerprint(t *testing.T) {
	// Whitespace variants must collapse to the same fingerprint.
	assert.Equal(t, Fingerprint("Fix bug"), Fingerprint(" Fix  bug "))
	assert.NotEqual(t, Fingerprint("Fix bug"), Fingerprint("fix bug"))
	assert.Len(t, Fingerprint("x"), 64)
}

func TestTruncateTokens(t *testing.T) {
	short := "hello world"
	assert.Equal(t, short, TruncateTokens(short, 100))

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 200)
	out := TruncateTokens(long, 50)
	assert.Less(t, len(out), len(long))

	// A zero cap disables truncation.
	assert.Equal(t, long, TruncateTokens(long, 0))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 5))
	assert.Equal(t, "ab...", TruncateRunes("abcdef", 2))
}
