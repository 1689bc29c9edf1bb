package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/aelexs/nextchapter/internal/realtime"
)

// BucketItem is an entry on the shared bucket list.
type BucketItem struct {
	ID               string     `json:"id"`
	Content          string     `json:"content"`
	Completed        bool       `json:"completed"`
	Timestamp        time.Time  `json:"timestamp"`
	CheckedTimestamp *time.Time `json:"checkedTimestamp"`
	Date             string     `json:"date"`
	CheckedDate      string     `json:"checkedDate,omitempty"`
}

var bucketOrder = realtime.Order{Field: "timestamp", Descending: true}

// BucketServiceConfig holds the dependencies for BucketService.
type BucketServiceConfig struct {
	DB       DocumentDB
	Clock    domain.Clock
	Location *time.Location
	Logger   *slog.Logger
}

// BucketService manages the shared bucket list.
type BucketService struct {
	db     DocumentDB
	clock  domain.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewBucketService creates a BucketService.
func NewBucketService(cfg BucketServiceConfig) *BucketService {
	return &BucketService{
		db:     cfg.DB,
		clock:  cfg.Clock,
		loc:    cfg.Location,
		logger: cfg.Logger,
	}
}

// Subscribe streams the raw list. Decode applies the display order.
func (s *BucketService) Subscribe(ctx context.Context) (*realtime.Subscription, error) {
	return s.db.Subscribe(ctx, domain.CollectionBucket, bucketOrder)
}

// List returns the list as it is now, in display order.
func (s *BucketService) List(ctx context.Context) ([]BucketItem, error) {
	snap, err := s.db.List(ctx, domain.CollectionBucket, bucketOrder)
	if err != nil {
		return nil, fmt.Errorf("list bucket: %w", err)
	}
	return s.Decode(snap), nil
}

// Decode converts a snapshot of the bucket collection. Open items come
// first, newest added first; completed items follow, most recently checked
// first.
func (s *BucketService) Decode(snap realtime.Snapshot) []BucketItem {
	items := make([]BucketItem, 0, snap.Len())
	for _, doc := range snap.Docs {
		ts := parseTimestamp(doc.Fields["timestamp"])
		item := BucketItem{
			ID:        doc.ID,
			Content:   doc.String("content"),
			Completed: doc.Bool("completed"),
			Timestamp: ts,
			Date:      displayDate(ts, s.loc),
		}
		if checked := parseTimestamp(doc.Fields["checkedTimestamp"]); !checked.IsZero() {
			item.CheckedTimestamp = &checked
			item.CheckedDate = displayDate(checked, s.loc)
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		if a.Completed {
			return checkedTime(a).After(checkedTime(b))
		}
		return a.Timestamp.After(b.Timestamp)
	})
	return items
}

func checkedTime(item BucketItem) time.Time {
	if item.CheckedTimestamp == nil {
		return time.Time{}
	}
	return *item.CheckedTimestamp
}

// Add puts a new open item on the list and returns its ID.
func (s *BucketService) Add(ctx context.Context, content string) (string, error) {
	ctx, span := tracer.Start(ctx, "bucket.add")
	defer span.End()

	content, err := validContent(content, domain.MaxBucketItemSize)
	if err != nil {
		spanError(span, err)
		return "", err
	}

	id, err := s.db.Add(ctx, domain.CollectionBucket, realtime.Fields{
		"content":   content,
		"completed": false,
		"timestamp": domain.NowTimestamp(s.clock),
	})
	if err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "bucket.add_failed", "error", err)
		return "", fmt.Errorf("add bucket item: %w", err)
	}

	span.SetAttributes(attribute.String("bucket.item_id", id))
	bucketWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "add")))
	s.log(ctx).InfoContext(ctx, "bucket.added", "item_id", id)
	return id, nil
}

// Edit replaces the content of item id.
func (s *BucketService) Edit(ctx context.Context, id, content string) error {
	ctx, span := tracer.Start(ctx, "bucket.edit")
	defer span.End()
	span.SetAttributes(attribute.String("bucket.item_id", id))

	docID, err := domain.NewDocumentID(id)
	if err != nil {
		spanError(span, err)
		return err
	}
	content, err = validContent(content, domain.MaxBucketItemSize)
	if err != nil {
		spanError(span, err)
		return err
	}

	if err := s.db.Update(ctx, domain.CollectionBucket, docID.String(), realtime.Fields{"content": content}); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "bucket.edit_failed", "item_id", id, "error", err)
		return fmt.Errorf("edit bucket item %s: %w", id, err)
	}

	bucketWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "edit")))
	return nil
}

// Delete removes item id.
func (s *BucketService) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "bucket.delete")
	defer span.End()
	span.SetAttributes(attribute.String("bucket.item_id", id))

	docID, err := domain.NewDocumentID(id)
	if err != nil {
		spanError(span, err)
		return err
	}

	if err := s.db.Delete(ctx, domain.CollectionBucket, docID.String()); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "bucket.delete_failed", "item_id", id, "error", err)
		return fmt.Errorf("delete bucket item %s: %w", id, err)
	}

	bucketWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "delete")))
	return nil
}

// Toggle flips the completed flag of item id and returns the new value.
// Reopening a completed item needs confirm; without it Toggle returns
// domain.ErrConfirmationRequired and writes nothing.
func (s *BucketService) Toggle(ctx context.Context, id string, confirm bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "bucket.toggle")
	defer span.End()
	span.SetAttributes(attribute.String("bucket.item_id", id))

	docID, err := domain.NewDocumentID(id)
	if err != nil {
		spanError(span, err)
		return false, err
	}

	doc, err := s.db.Get(ctx, realtime.Doc(domain.CollectionBucket, docID.String()))
	if err != nil {
		spanError(span, err)
		return false, fmt.Errorf("get bucket item %s: %w", id, err)
	}

	completed := !doc.Bool("completed")
	if !completed && !confirm {
		err := fmt.Errorf("reopen bucket item %s: %w", id, domain.ErrConfirmationRequired)
		spanError(span, err)
		return false, err
	}

	fields := realtime.Fields{"completed": completed, "checkedTimestamp": nil}
	if completed {
		fields["checkedTimestamp"] = domain.NowTimestamp(s.clock)
	}
	if err := s.db.Update(ctx, domain.CollectionBucket, docID.String(), fields); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "bucket.toggle_failed", "item_id", id, "error", err)
		return false, fmt.Errorf("toggle bucket item %s: %w", id, err)
	}

	span.SetAttributes(attribute.Bool("bucket.completed", completed))
	bucketWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "toggle")))
	return completed, nil
}

func (s *BucketService) log(ctx context.Context) *slog.Logger {
	return observability.WithTraceID(ctx, loggerOrDefault(s.logger))
}
