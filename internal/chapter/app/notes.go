package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/aelexs/nextchapter/internal/realtime"
)

// Note is a message on the notes board.
type Note struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Author    domain.Author `json:"author"`
	Timestamp time.Time     `json:"timestamp"`
	Date      string        `json:"date"`
}

// notesOrder lists the newest note first.
var notesOrder = realtime.Order{Field: "timestamp", Descending: true}

// NotesServiceConfig holds the dependencies for NotesService.
type NotesServiceConfig struct {
	DB       DocumentDB
	Clock    domain.Clock
	Location *time.Location
	Logger   *slog.Logger
}

// NotesService manages the shared notes board.
type NotesService struct {
	db     DocumentDB
	clock  domain.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewNotesService creates a NotesService.
func NewNotesService(cfg NotesServiceConfig) *NotesService {
	return &NotesService{
		db:     cfg.DB,
		clock:  cfg.Clock,
		loc:    cfg.Location,
		logger: cfg.Logger,
	}
}

// Subscribe streams the board, newest note first.
func (s *NotesService) Subscribe(ctx context.Context) (*realtime.Subscription, error) {
	return s.db.Subscribe(ctx, domain.CollectionNotes, notesOrder)
}

// List returns the board as it is now.
func (s *NotesService) List(ctx context.Context) ([]Note, error) {
	snap, err := s.db.List(ctx, domain.CollectionNotes, notesOrder)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return s.Decode(snap), nil
}

// Decode converts a snapshot of the notes collection.
func (s *NotesService) Decode(snap realtime.Snapshot) []Note {
	notes := make([]Note, 0, snap.Len())
	for _, doc := range snap.Docs {
		ts := parseTimestamp(doc.Fields["timestamp"])
		notes = append(notes, Note{
			ID:        doc.ID,
			Content:   doc.String("content"),
			Author:    domain.Author(doc.String("author")),
			Timestamp: ts,
			Date:      displayDate(ts, s.loc),
		})
	}
	return notes
}

// Add posts a note by author and returns its ID.
func (s *NotesService) Add(ctx context.Context, content string, author domain.Author) (string, error) {
	ctx, span := tracer.Start(ctx, "notes.add")
	defer span.End()

	content, err := validContent(content, domain.MaxNoteSize)
	if err != nil {
		spanError(span, err)
		return "", err
	}
	if !domain.IsValidAuthor(author) {
		err := fmt.Errorf("author %q: %w", author, domain.ErrInvalidAuthor)
		spanError(span, err)
		return "", err
	}

	id, err := s.db.Add(ctx, domain.CollectionNotes, realtime.Fields{
		"content":   content,
		"author":    string(author),
		"timestamp": domain.NowTimestamp(s.clock),
	})
	if err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "notes.add_failed", "error", err)
		return "", fmt.Errorf("add note: %w", err)
	}

	span.SetAttributes(attribute.String("note.id", id))
	notesWrittenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "add")))
	s.log(ctx).InfoContext(ctx, "notes.added", "note_id", id, "author", string(author))
	return id, nil
}

// Edit replaces the content of note id. Author and timestamp are kept.
func (s *NotesService) Edit(ctx context.Context, id, content string) error {
	ctx, span := tracer.Start(ctx, "notes.edit")
	defer span.End()
	span.SetAttributes(attribute.String("note.id", id))

	docID, err := domain.NewDocumentID(id)
	if err != nil {
		spanError(span, err)
		return err
	}
	content, err = validContent(content, domain.MaxNoteSize)
	if err != nil {
		spanError(span, err)
		return err
	}

	if err := s.db.Update(ctx, domain.CollectionNotes, docID.String(), realtime.Fields{"content": content}); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "notes.edit_failed", "note_id", id, "error", err)
		return fmt.Errorf("edit note %s: %w", id, err)
	}

	notesWrittenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "edit")))
	return nil
}

// Delete removes note id.
func (s *NotesService) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "notes.delete")
	defer span.End()
	span.SetAttributes(attribute.String("note.id", id))

	docID, err := domain.NewDocumentID(id)
	if err != nil {
		spanError(span, err)
		return err
	}

	if err := s.db.Delete(ctx, domain.CollectionNotes, docID.String()); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "notes.delete_failed", "note_id", id, "error", err)
		return fmt.Errorf("delete note %s: %w", id, err)
	}

	notesWrittenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "delete")))
	return nil
}

func (s *NotesService) log(ctx context.Context) *slog.Logger {
	return observability.WithTraceID(ctx, loggerOrDefault(s.logger))
}

// validContent trims content and checks it is non-empty and within limit bytes.
func validContent(content string, limit int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("content is empty: %w", domain.ErrInvalidInput)
	}
	if len(content) > limit {
		return "", fmt.Errorf("content is %d bytes, limit %d: %w", len(content), limit, domain.ErrContentTooLarge)
	}
	return content, nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
