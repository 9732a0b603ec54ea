// Package hookcfg manages the hook entries devark installs into editor
// configuration files. Files are merged, never replaced: existing entries,
// unknown keys, and formatting-irrelevant structure all survive an install.
package hookcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Claude hook events devark subscribes to.
const (
	EventUserPromptSubmit = "UserPromptSubmit"
	EventStop             = "Stop"
)

// Cursor hook events recognized by the hooks.json schema.
const (
	CursorEventStop          = "stop"
	CursorEventBeforeSubmit  = "beforeSubmitPrompt"
	CursorEventAfterFileEdit = "afterFileEdit"
	cursorHooksVersion       = 1
)

// ClaudeSettingsPath returns the per-project Claude settings file.
func ClaudeSettingsPath(projectDir string) string {
	return filepath.Join(projectDir, ".claude", "settings.json")
}

// CursorHooksPath returns the per-project Cursor hooks file.
func CursorHooksPath(projectDir string) string {
	return filepath.Join(projectDir, ".cursor", "hooks.json")
}

// HookCommand renders the sync-binary invocation for one trigger.
func HookCommand(binary, trigger string) string {
	return fmt.Sprintf("%s --hook-trigger=%s", binary, trigger)
}

// InstallClaudeHooks merges devark's UserPromptSubmit and Stop hooks into the
// project's .claude/settings.json. Idempotent; existing hook entries are
// preserved.
func InstallClaudeHooks(projectDir, binary string) error {
	path := ClaudeSettingsPath(projectDir)
	doc, err := readOrEmpty(path)
	if err != nil {
		return err
	}

	changed := false
	for _, event := range []string{EventUserPromptSubmit, EventStop} {
		command := HookCommand(binary, event)
		if claudeHookInstalled(doc, event, command) {
			continue
		}
		entry, err := sjson.Set(`{"hooks":[{"type":"command"}]}`, "hooks.0.command", command)
		if err != nil {
			return err
		}
		doc, err = sjson.SetRaw(doc, "hooks."+event+".-1", entry)
		if err != nil {
			return fmt.Errorf("merge %s hook: %w", event, err)
		}
		changed = true
	}

	if !changed {
		return nil
	}
	return writeAtomic(path, doc)
}

// claudeHookInstalled reports whether any entry under the event already
// invokes the command.
func claudeHookInstalled(doc, event, command string) bool {
	found := false
	gjson.Get(doc, "hooks."+event).ForEach(func(_, entry gjson.Result) bool {
		entry.Get("hooks").ForEach(func(_, h gjson.Result) bool {
			if h.Get("command").String() == command {
				found = true
			}
			return !found
		})
		return !found
	})
	return found
}

// InstallCursorHooks merges command entries into .cursor/hooks.json for the
// given events. Deep-merge by event name, append within arrays, preserve an
// existing version field.
func InstallCursorHooks(projectDir, binary string, events ...string) error {
	if len(events) == 0 {
		events = []string{CursorEventBeforeSubmit, CursorEventStop}
	}

	path := CursorHooksPath(projectDir)
	doc, err := readOrEmpty(path)
	if err != nil {
		return err
	}

	changed := false
	if !gjson.Get(doc, "version").Exists() {
		doc, err = sjson.Set(doc, "version", cursorHooksVersion)
		if err != nil {
			return err
		}
		changed = true
	}

	for _, event := range events {
		command := HookCommand(binary, event)
		if cursorHookInstalled(doc, event, command) {
			continue
		}
		doc, err = sjson.SetRaw(doc, "hooks."+event+".-1",
			mustJSON("command", command))
		if err != nil {
			return fmt.Errorf("merge %s hook: %w", event, err)
		}
		changed = true
	}

	if !changed {
		return nil
	}
	return writeAtomic(path, doc)
}

func cursorHookInstalled(doc, event, command string) bool {
	found := false
	gjson.Get(doc, "hooks."+event).ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("command").String() == command {
			found = true
		}
		return !found
	})
	return found
}

func mustJSON(key, value string) string {
	out, _ := sjson.Set("{}", key, value)
	return out
}

// readOrEmpty loads the file or starts a fresh document.
func readOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "{}", nil
	}
	if err != nil {
		return "", err
	}
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%s: not valid JSON, refusing to overwrite", path)
	}
	return string(data), nil
}

// writeAtomic writes via a sibling temp file and rename.
func writeAtomic(path, doc string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".hooks-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
