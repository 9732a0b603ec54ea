// Package claudelog reads Claude Code's JSONL transcript directory and
// projects transcripts into the unified session model.
//
// The directory belongs to Claude Code and is opened strictly read-only;
// transcripts are streamed line by line.
package claudelog

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/pkg/models"
)

// listingWindow bounds ListSessions to recently modified transcripts. Older
// sessions stay readable by id.
const listingWindow = 30 * 24 * time.Hour

// maxLineSize accommodates large assistant turns inside one JSONL line.
const maxLineSize = 4 * 1024 * 1024

// DefaultProjectsDir returns Claude Code's per-project transcript root.
func DefaultProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// Reader exposes a query surface over the transcript directory.
type Reader struct {
	dir string
	now func() time.Time
}

// NewReader creates a reader over the given transcript root.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir, now: time.Now}
}

// entry is one transcript line. Claude has used two shapes: a flat
// {role, content} record and a nested {type, message: {role, content}} one.
type entry struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	CWD       string          `json:"cwd"`
	Content   json.RawMessage `json:"content"`
	Message   struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// role resolves the author across both shapes.
func (e *entry) role() models.Role {
	switch {
	case e.Message.Role != "":
		return models.Role(e.Message.Role)
	case e.Role != "":
		return models.Role(e.Role)
	case e.Type == "user" || e.Type == "assistant":
		return models.Role(e.Type)
	}
	return ""
}

// text extracts the message body. Content is either a plain string or an
// array of content blocks from which the text blocks are joined.
func (e *entry) text() string {
	raw := e.Message.Content
	if len(raw) == 0 {
		raw = e.Content
	}
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (e *entry) time() time.Time {
	if e.Timestamp == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ListSessions lists transcripts modified in the last 30 days, sorted by last
// activity descending.
func (r *Reader) ListSessions(ctx context.Context) ([]models.Session, error) {
	files, err := r.transcriptFiles()
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-listingWindow)
	var sessions []models.Session
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		s, err := r.readSession(path, info.ModTime())
		if err != nil {
			log.Debug().Str("path", path).Err(err).Msg("Skipping unreadable transcript")
			continue
		}
		sessions = append(sessions, *s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// GetSessionByID returns one session regardless of the listing window, or nil
// when no transcript with that name exists.
func (r *Reader) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	path, err := r.findTranscript(id)
	if err != nil || path == "" {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return r.readSession(path, info.ModTime())
}

// GetMessages returns all messages of a transcript in file order.
func (r *Reader) GetMessages(ctx context.Context, id string) ([]models.Message, error) {
	path, err := r.findTranscript(id)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	var msgs []models.Message
	err = r.scan(path, func(i int, e *entry) {
		role := e.role()
		if role != models.RoleUser && role != models.RoleAssistant {
			return
		}
		text := e.text()
		if text == "" {
			return
		}
		mid := e.UUID
		if mid == "" {
			mid = fmt.Sprintf("%s:%d", id, i)
		}
		msgs = append(msgs, models.Message{
			ID:        mid,
			Role:      role,
			Content:   text,
			Timestamp: e.time(),
		})
	})
	if err != nil {
		return nil, err
	}

	// Lines missing timestamps inherit their predecessor's to keep order.
	var last time.Time
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = last.Add(time.Millisecond)
		}
		last = msgs[i].Timestamp
	}
	return msgs, nil
}

// readSession builds the session summary for one transcript file.
func (r *Reader) readSession(path string, modTime time.Time) (*models.Session, error) {
	id := sessionID(path)
	var (
		cwd     string
		prompts int
		first   time.Time
		last    time.Time
	)
	err := r.scan(path, func(_ int, e *entry) {
		if cwd == "" && e.CWD != "" {
			cwd = e.CWD
		}
		role := e.role()
		if role != models.RoleUser && role != models.RoleAssistant {
			return
		}
		if role == models.RoleUser && e.text() != "" {
			prompts++
		}
		if ts := e.time(); !ts.IsZero() {
			if first.IsZero() {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if last.IsZero() {
		last = modTime
	}
	if first.IsZero() {
		first = last
	}

	name := "Claude Code"
	if cwd != "" {
		name = filepath.Base(cwd)
	}
	s := &models.Session{
		SessionID:     id,
		Source:        models.SourceClaude,
		WorkspaceName: name,
		WorkspacePath: cwd,
		StartTime:     first,
		LastActivity:  last,
		PromptCount:   prompts,
	}
	s.ResolveStatus(r.now())
	return s, nil
}

// scan streams a transcript, invoking fn per parsable line. Malformed lines
// are skipped.
func (r *Reader) scan(path string, fn func(i int, e *entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	i := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		fn(i, &e)
		i++
	}
	return scanner.Err()
}

// transcriptFiles walks the projects root for .jsonl files.
func (r *Reader) transcriptFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// findTranscript locates the transcript file whose name matches the session
// id, without any modification-time filter.
func (r *Reader) findTranscript(id string) (string, error) {
	files, err := r.transcriptFiles()
	if err != nil {
		return "", err
	}
	for _, path := range files {
		if sessionID(path) == id {
			return path, nil
		}
	}
	return "", nil
}

func sessionID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}
