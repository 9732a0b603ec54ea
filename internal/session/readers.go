package session

import (
	"context"

	"github.com/devark-ai/devark/internal/claudelog"
	"github.com/devark-ai/devark/internal/cursordb"
	"github.com/devark-ai/devark/pkg/models"
)

// CursorSource adapts cursordb.Reader to the aggregator surface.
type CursorSource struct {
	Reader *cursordb.Reader
}

func (c CursorSource) Sessions(ctx context.Context) ([]models.Session, error) {
	return c.Reader.GetActiveSessions(ctx)
}

func (c CursorSource) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	return c.Reader.GetCursorSessionByID(ctx, id)
}

func (c CursorSource) Messages(ctx context.Context, id string) ([]models.Message, error) {
	return c.Reader.GetAllMessagesForSession(ctx, id)
}

// ClaudeSource adapts claudelog.Reader to the aggregator surface.
type ClaudeSource struct {
	Reader *claudelog.Reader
}

func (c ClaudeSource) Sessions(ctx context.Context) ([]models.Session, error) {
	return c.Reader.ListSessions(ctx)
}

func (c ClaudeSource) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	return c.Reader.GetSessionByID(ctx, id)
}

func (c ClaudeSource) Messages(ctx context.Context, id string) ([]models.Message, error) {
	return c.Reader.GetMessages(ctx, id)
}

// DefaultReaders builds the standard source map. Sources that fail to open
// are omitted; the aggregator degrades them to zero sessions anyway.
func DefaultReaders() map[models.Source]SourceReader {
	readers := map[models.Source]SourceReader{
		models.SourceClaude: ClaudeSource{Reader: claudelog.NewReader(claudelog.DefaultProjectsDir())},
	}
	if kv, err := cursordb.Open(cursordb.DefaultDBPath()); err == nil {
		readers[models.SourceCursor] = CursorSource{Reader: cursordb.NewReader(kv)}
	}
	return readers
}
