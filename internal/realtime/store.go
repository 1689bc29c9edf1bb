package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/observability"
)

// Documents is durable document storage. Get, Update and Delete return
// domain.ErrNotFound for a missing document; Create fails if it exists.
type Documents interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Create(ctx context.Context, ref Ref, fields Fields) error
	Replace(ctx context.Context, ref Ref, fields Fields) error
	Merge(ctx context.Context, ref Ref, fields Fields) error
	Update(ctx context.Context, ref Ref, fields Fields) error
	Delete(ctx context.Context, ref Ref) error
	List(ctx context.Context, collection string) ([]Document, error)
}

// ChangeFeed notifies listeners that a collection changed. Notifications
// carry no payload; subscribers re-read the collection.
type ChangeFeed interface {
	Publish(ctx context.Context, collection string) error
	Listen(ctx context.Context, collection string) (Listener, error)
}

// Listener receives change notifications for one collection.
type Listener interface {
	Changes() <-chan struct{}
	Close() error
}

// Store is the document database: writes go to Documents and are announced
// on the ChangeFeed, subscriptions turn announcements into snapshots.
type Store struct {
	docs   Documents
	feed   ChangeFeed
	clock  domain.Clock
	resync time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithResyncInterval sets how often subscriptions re-read their collection
// without a notification. Zero disables resync.
func WithResyncInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.resync = d }
}

// NewStore creates a Store.
func NewStore(docs Documents, feed ChangeFeed, clock domain.Clock, opts ...StoreOption) *Store {
	s := &Store{
		docs:   docs,
		feed:   feed,
		clock:  clock,
		resync: domain.SnapshotResyncInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores fields as a new document with a generated ID and returns the ID.
func (s *Store) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := domain.GenerateDocumentID().String()
	if err := s.docs.Create(ctx, Doc(collection, id), fields); err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	s.announce(ctx, collection)
	return id, nil
}

// Update overwrites the given fields of an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields Fields) error {
	ref := Doc(collection, id)
	if err := s.docs.Update(ctx, ref, fields); err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	s.announce(ctx, collection)
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	ref := Doc(collection, id)
	if err := s.docs.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	s.announce(ctx, collection)
	return nil
}

// Get reads a single document.
func (s *Store) Get(ctx context.Context, ref Ref) (Document, error) {
	doc, err := s.docs.Get(ctx, ref)
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return doc, nil
}

// Set writes a document at ref. With merge the given fields are combined with
// any existing ones and a missing document is created; without merge the
// document is replaced.
func (s *Store) Set(ctx context.Context, ref Ref, fields Fields, merge bool) error {
	var err error
	if merge {
		err = s.docs.Merge(ctx, ref, fields)
	} else {
		err = s.docs.Replace(ctx, ref, fields)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", ref, err)
	}
	s.announce(ctx, ref.Collection)
	return nil
}

// announce publishes a change. The write has already committed, so a
// failed publish is logged and subscribers catch up on their next resync.
func (s *Store) announce(ctx context.Context, collection string) {
	if err := s.feed.Publish(ctx, collection); err != nil {
		observability.LoggerFromContext(ctx).Warn("publish change failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe starts a subscription. The current snapshot is ready on C()
// when Subscribe returns. The subscription ends when ctx is cancelled or
// Close is called.
func (s *Store) Subscribe(ctx context.Context, collection string, order Order) (*Subscription, error) {
	// Listen before the first read so no write can slip between the two.
	listener, err := s.feed.Listen(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", collection, err)
	}

	first, err := s.snapshot(ctx, collection, order)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan Snapshot, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.ch <- first

	go sub.run(ctx, s, listener, collection, order)
	return sub, nil
}

// List reads collection once in order. Unlike Subscribe it opens no listener.
func (s *Store) List(ctx context.Context, collection string, order Order) (Snapshot, error) {
	return s.snapshot(ctx, collection, order)
}

func (s *Store) snapshot(ctx context.Context, collection string, order Order) (Snapshot, error) {
	docs, err := s.docs.List(ctx, collection)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list %s: %w", collection, err)
	}
	order.Apply(docs)
	return Snapshot{Collection: collection, Docs: docs, TakenAt: s.clock.Now()}, nil
}

// Subscription delivers snapshots of one collection. Only the newest
// undelivered snapshot is kept, so a slow reader never blocks writers.
type Subscription struct {
	ch     chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (sub *Subscription) C() <-chan Snapshot { return sub.ch }

// Done is closed once the subscription goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Close ends the subscription and waits for its goroutine to exit.
func (sub *Subscription) Close() {
	sub.once.Do(sub.cancel)
	<-sub.done
}

func (sub *Subscription) run(ctx context.Context, s *Store, listener Listener, collection string, order Order) {
	defer close(sub.done)
	defer close(sub.ch)
	defer func() { _ = listener.Close() }()

	var resync <-chan time.Time
	if s.resync > 0 {
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-listener.Changes():
			if !ok {
				return
			}
		case <-resync:
		}

		snap, err := s.snapshot(ctx, collection, order)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.LoggerFromContext(ctx).Warn("refresh snapshot failed",
				slog.String("collection", collection),
				slog.String("error", err.Error()),
			)
			continue
		}
		sub.offer(snap)
	}
}

// offer replaces any undelivered snapshot with snap. run is the only sender,
// so the second send cannot block.
func (sub *Subscription) offer(snap Snapshot) {
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- snap
}
