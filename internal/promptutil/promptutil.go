// Package promptutil provides prompt classification and normalization helpers.
package promptutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// toolMarkerRe matches a single fully bracketed tool-result marker,
// e.g. "[Tool result]" or "[Tool: Read] done".
var toolMarkerRe = regexp.MustCompile(`^\[Tool[^\]]*\]`)

// IsActualUserPrompt reports whether s is a real user prompt rather than
// an empty string or a tool-result marker injected by the AI tool.
func IsActualUserPrompt(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	if loc := toolMarkerRe.FindStringIndex(trimmed); loc != nil {
		rest := strings.TrimSpace(trimmed[loc[1]:])
		if rest == "" {
			return false
		}
	}
	return true
}

// SlashCommand is a parsed AI-tool directive like "/commit -m msg".
type SlashCommand struct {
	Name      string
	Arguments string
}

// slashCommandRe requires a leading slash followed by a letter, then any mix
// of letters, digits, and _:- (":" allows namespaced commands).
var slashCommandRe = regexp.MustCompile(`^/([A-Za-z][A-Za-z0-9_:-]*)(?:\s+(.*))?$`)

// DetectSlashCommand parses s as a slash command. Returns nil when s is not
// one ("/", "//x", "/ x", "/123x" are all rejected).
func DetectSlashCommand(s string) *SlashCommand {
	trimmed := strings.TrimSpace(s)
	m := slashCommandRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil
	}
	return &SlashCommand{
		Name:      m[1],
		Arguments: strings.TrimSpace(m[2]),
	}
}

var wsRunRe = regexp.MustCompile(`\s+`)

// Normalize canonicalizes prompt text for fingerprinting: trailing/leading
// whitespace stripped, internal whitespace runs collapsed to single spaces.
func Normalize(s string) string {
	return wsRunRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Fingerprint returns the canonical hash of a prompt, used for the scoring
// cache and sync dedup.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// TruncateTokens caps s at maxTokens using the cl100k tokenizer. Falls back
// to a rune-count heuristic if the tokenizer is unavailable.
func TruncateTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	enc, err := getCodec()
	if err != nil {
		// ~4 chars per token on average English text
		runes := []rune(s)
		if len(runes) > maxTokens*4 {
			return string(runes[:maxTokens*4])
		}
		return s
	}
	ids, _, err := enc.Encode(s)
	if err != nil || len(ids) <= maxTokens {
		return s
	}
	out, err := enc.Decode(ids[:maxTokens])
	if err != nil {
		return s
	}
	return out
}

// TruncateRunes caps s at n runes, appending an ellipsis when cut.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
