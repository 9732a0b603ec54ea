package detect

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/pkg/models"
)

// TriggerUserPromptSubmit and TriggerStop are the hook trigger names the
// sync binary writes into the queue file.
const (
	TriggerUserPromptSubmit = "UserPromptSubmit"
	TriggerStop             = "Stop"
)

// QueueLine is one NDJSON record appended by the hook binary.
type QueueLine struct {
	SessionID string    `json:"sessionId"`
	CWD       string    `json:"cwd"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   string    `json:"trigger"`
}

// ClaudeAdapter consumes the hook event queue file. The hook scripts are
// installed into per-project settings on first enable; the installer is
// injected so tests stay filesystem-local.
type ClaudeAdapter struct {
	queuePath string
	installer func() error

	mu        sync.Mutex
	running   bool
	installed bool
	t         *tail.Tail
	done      chan struct{}
	cb        func(models.PromptDetectedEvent)
}

// NewClaudeAdapter creates the queue-tail adapter. installer may be nil when
// hook installation is managed elsewhere.
func NewClaudeAdapter(queuePath string, installer func() error) *ClaudeAdapter {
	return &ClaudeAdapter{queuePath: queuePath, installer: installer}
}

func (a *ClaudeAdapter) Source() models.Source { return models.SourceClaude }

// Initialize ensures the queue file exists so the tail can attach.
func (a *ClaudeAdapter) Initialize(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.queuePath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(a.queuePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (a *ClaudeAdapter) IsAvailable() bool {
	_, err := os.Stat(a.queuePath)
	return err == nil
}

func (a *ClaudeAdapter) OnPrompt(fn func(models.PromptDetectedEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = fn
}

// Start installs the hooks on first enable and begins tailing the queue
// file from its current end. Re-entrant.
func (a *ClaudeAdapter) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	if !a.installed && a.installer != nil {
		if err := a.installer(); err != nil {
			log.Warn().Err(err).Msg("Claude hook installation failed, continuing with existing hooks")
		}
		a.installed = true
	}

	t, err := tail.TailFile(a.queuePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return err
	}
	a.t = t
	a.done = make(chan struct{})
	a.running = true

	go a.consume(t, a.done)
	return nil
}

// Stop halts the tail. Re-entrant.
func (a *ClaudeAdapter) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	t, done := a.t, a.done
	a.t = nil
	a.mu.Unlock()

	err := t.Stop()
	<-done
	return err
}

func (a *ClaudeAdapter) consume(t *tail.Tail, done chan struct{}) {
	defer close(done)
	for line := range t.Lines {
		if line.Err != nil {
			log.Debug().Err(line.Err).Msg("Queue tail error")
			continue
		}
		a.handleLine(line.Text)
	}
}

// handleLine parses one queue record and emits an event for prompt
// submissions. Stop-trigger lines mark turn boundaries and carry no prompt.
func (a *ClaudeAdapter) handleLine(text string) {
	if text == "" {
		return
	}
	var rec QueueLine
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		log.Debug().Err(err).Msg("Skipping malformed queue line")
		return
	}
	if rec.Trigger != TriggerUserPromptSubmit {
		return
	}

	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb == nil {
		return
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ctx := map[string]string{"trigger": rec.Trigger}
	if rec.CWD != "" {
		ctx["cwd"] = rec.CWD
	}
	cb(models.PromptDetectedEvent{
		Source:    models.SourceClaude,
		SessionID: rec.SessionID,
		Text:      rec.Prompt,
		Timestamp: ts,
		Context:   ctx,
	})
}
