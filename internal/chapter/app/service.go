// Package app holds the chapter use cases: the timeline, the two boards and
// the PIN gate. Infrastructure is reached only through the interfaces below.
package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/realtime"
)

var tracer = otel.Tracer("chapter/app")

var (
	notesWrittenTotal     metric.Int64Counter
	bucketWritesTotal     metric.Int64Counter
	pinVerificationsTotal metric.Int64Counter
	pinChangesTotal       metric.Int64Counter
	countdownTicksTotal   metric.Int64Counter
)

func init() {
	m := otel.Meter("chapter/app")

	notesWrittenTotal, _ = m.Int64Counter("notes_written_total",
		metric.WithDescription("Total note writes by operation"))
	bucketWritesTotal, _ = m.Int64Counter("bucket_writes_total",
		metric.WithDescription("Total bucket list writes by operation"))
	pinVerificationsTotal, _ = m.Int64Counter("pin_verifications_total",
		metric.WithDescription("Total PIN verifications by result"))
	pinChangesTotal, _ = m.Int64Counter("pin_changes_total",
		metric.WithDescription("Total PIN changes by result"))
	countdownTicksTotal, _ = m.Int64Counter("countdown_ticks_total",
		metric.WithDescription("Total timeline breakdowns published by mode"))
}

// DocumentDB is the realtime document database the boards and the PIN gate
// are stored in. *realtime.Store satisfies it.
type DocumentDB interface {
	Subscribe(ctx context.Context, collection string, order realtime.Order) (*realtime.Subscription, error)
	List(ctx context.Context, collection string, order realtime.Order) (realtime.Snapshot, error)
	Add(ctx context.Context, collection string, fields realtime.Fields) (string, error)
	Update(ctx context.Context, collection, id string, fields realtime.Fields) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, ref realtime.Ref) (realtime.Document, error)
	Set(ctx context.Context, ref realtime.Ref, fields realtime.Fields, merge bool) error
}

var _ DocumentDB = (*realtime.Store)(nil)

// AttemptLimiter bounds PIN attempts per client.
type AttemptLimiter interface {
	Allow(ctx context.Context, client string) (bool, error)
	Reset(ctx context.Context, client string) error
}

// parseTimestamp returns the zero time for a missing or malformed value.
func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func displayDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return domain.DisplayDate(t, loc)
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
