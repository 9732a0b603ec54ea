// Package hookio implements the devark-sync hook binary's core: read the
// editor's hook payload from stdin, append one queue record, and always
// hand control back with {"continue": true} so capture problems never block
// the editor.
package hookio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/devark-ai/devark/internal/detect"
)

// Input is the hook payload Claude Code writes to stdin.
type Input struct {
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	Prompt        string `json:"prompt"`
	HookEventName string `json:"hook_event_name"`
}

// Response is the contract the editor expects on stdout.
type Response struct {
	Continue bool `json:"continue"`
}

// ProjectID derives a human-readable project identity from a working
// directory: the directory name plus six hex chars of the absolute path's
// SHA-256, e.g. "myapp_a1b2c3".
func ProjectID(cwd string) string {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		absPath = cwd
	}
	sum := sha256.Sum256([]byte(absPath))
	return fmt.Sprintf("%s_%s", filepath.Base(absPath), hex.EncodeToString(sum[:3]))
}

// Run processes one hook invocation. trigger comes from --hook-trigger and
// falls back to the payload's hook_event_name. Only prompt submissions are
// recorded; every other trigger is acknowledged and dropped.
func Run(trigger, queuePath string, stdin io.Reader, stdout io.Writer) error {
	defer writeContinue(stdout)

	raw, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read hook payload: %w", err)
	}

	var input Input
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return fmt.Errorf("parse hook payload: %w", err)
		}
	}
	if trigger == "" {
		trigger = input.HookEventName
	}
	if trigger != detect.TriggerUserPromptSubmit || input.Prompt == "" {
		return nil
	}

	return appendLine(queuePath, detect.QueueLine{
		SessionID: input.SessionID,
		CWD:       input.CWD,
		Prompt:    input.Prompt,
		Timestamp: time.Now(),
		Trigger:   trigger,
	})
}

// appendLine adds one NDJSON record to the queue file.
func appendLine(path string, rec detect.QueueLine) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open queue file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append queue line: %w", err)
	}
	return nil
}

func writeContinue(w io.Writer) {
	data, _ := json.Marshal(Response{Continue: true})
	fmt.Fprintln(w, string(data))
}
