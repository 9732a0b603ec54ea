// Package config provides configuration management for devark.
//
// All writable state lives under ~/.devark. The config file is plain UTF-8
// JSON written atomically (temp + rename); unknown keys are preserved across
// writes so components can own individual fields without clobbering others.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultAPIURL is the cloud backend used for session sync.
	DefaultAPIURL = "https://api.devark.dev"

	// DefaultProvider is the LLM provider used when none is configured.
	DefaultProvider = "ollama"

	// DefaultPollInterval is the Cursor adapter poll cadence.
	DefaultPollInterval = 3 * time.Second

	// DefaultDuplicateWindow suppresses repeated identical prompts within
	// this window. Exposed as a knob rather than hard-coded.
	DefaultDuplicateWindow = 2 * time.Second
)

// DataDir returns the devark data directory (~/.devark).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devark"
	}
	return filepath.Join(home, ".devark")
}

// ConfigPath returns the path to config.json.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// KeyPath returns the path to the encryption key file.
func KeyPath() string {
	return filepath.Join(DataDir(), ".key")
}

// StorePath returns the path to the persistent key-value snapshot database.
func StorePath() string {
	return filepath.Join(DataDir(), "store.db")
}

// QueuePath returns the path to the Claude hook event queue file.
func QueuePath() string {
	return filepath.Join(DataDir(), "claude-events.jsonl")
}

// SyncRulesPath returns the path to the sync selection rules file.
func SyncRulesPath() string {
	return filepath.Join(DataDir(), "sync.yaml")
}

// EnsureDataDir creates the data directory if missing. This is the only
// condition treated as fatal at process start-up.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// ProviderConfig holds per-provider settings.
type ProviderConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKeyRef string `json:"apiKeyRef,omitempty"`
}

// DetectionConfig controls the prompt detection service.
type DetectionConfig struct {
	Enabled         bool          `json:"enabled"`
	AutoAnalyze     bool          `json:"autoAnalyze"`
	PollInterval    time.Duration `json:"-"`
	DuplicateWindow time.Duration `json:"-"`

	PollIntervalMs    int `json:"pollIntervalMs,omitempty"`
	DuplicateWindowMs int `json:"duplicateWindowMs,omitempty"`
}

// DefaultDetection returns the default detection settings.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		Enabled:         true,
		AutoAnalyze:     true,
		PollInterval:    DefaultPollInterval,
		DuplicateWindow: DefaultDuplicateWindow,
	}
}

// Normalize fills the duration fields from their serialized forms.
func (d *DetectionConfig) Normalize() {
	if d.PollIntervalMs > 0 {
		d.PollInterval = time.Duration(d.PollIntervalMs) * time.Millisecond
	} else if d.PollInterval == 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.DuplicateWindowMs > 0 {
		d.DuplicateWindow = time.Duration(d.DuplicateWindowMs) * time.Millisecond
	} else if d.DuplicateWindow == 0 {
		d.DuplicateWindow = DefaultDuplicateWindow
	}
}

// atomicWrite writes data to path via a sibling temp file and rename.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// marshalIndent renders config JSON the same way everywhere.
func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
