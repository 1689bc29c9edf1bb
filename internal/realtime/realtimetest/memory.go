// Package realtimetest provides in-memory Documents and ChangeFeed
// implementations for tests.
package realtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/realtime"
)

// Documents is an in-memory realtime.Documents.
type Documents struct {
	mu   sync.Mutex
	data map[string]map[string]realtime.Fields

	// ListErr, when set, is returned by List.
	ListErr error
}

// NewDocuments creates an empty store.
func NewDocuments() *Documents {
	return &Documents{data: make(map[string]map[string]realtime.Fields)}
}

func (d *Documents) Get(_ context.Context, ref realtime.Ref) (realtime.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.data[ref.Collection][ref.ID]
	if !ok {
		return realtime.Document{}, domain.ErrNotFound
	}
	return realtime.Document{ID: ref.ID, Fields: f.Clone()}, nil
}

func (d *Documents) Create(_ context.Context, ref realtime.Ref, fields realtime.Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[ref.Collection][ref.ID]; ok {
		return fmt.Errorf("document %s already exists", ref)
	}
	d.put(ref, fields.Clone())
	return nil
}

func (d *Documents) Replace(_ context.Context, ref realtime.Ref, fields realtime.Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(ref, fields.Clone())
	return nil
}

func (d *Documents) Merge(_ context.Context, ref realtime.Ref, fields realtime.Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.data[ref.Collection][ref.ID]
	if !ok {
		existing = realtime.Fields{}
	}
	for k, v := range fields {
		existing[k] = v
	}
	d.put(ref, existing)
	return nil
}

func (d *Documents) Update(_ context.Context, ref realtime.Ref, fields realtime.Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.data[ref.Collection][ref.ID]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

func (d *Documents) Delete(_ context.Context, ref realtime.Ref) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[ref.Collection][ref.ID]; !ok {
		return domain.ErrNotFound
	}
	delete(d.data[ref.Collection], ref.ID)
	return nil
}

func (d *Documents) List(_ context.Context, collection string) ([]realtime.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	docs := make([]realtime.Document, 0, len(d.data[collection]))
	for id, f := range d.data[collection] {
		docs = append(docs, realtime.Document{ID: id, Fields: f.Clone()})
	}
	return docs, nil
}

func (d *Documents) put(ref realtime.Ref, fields realtime.Fields) {
	if d.data[ref.Collection] == nil {
		d.data[ref.Collection] = make(map[string]realtime.Fields)
	}
	d.data[ref.Collection][ref.ID] = fields
}

// Feed is an in-memory realtime.ChangeFeed.
type Feed struct {
	mu        sync.Mutex
	listeners map[string]map[*listener]struct{}

	// PublishErr, when set, is returned by Publish without notifying anyone.
	PublishErr error
}

// NewFeed creates a feed with no listeners.
func NewFeed() *Feed {
	return &Feed{listeners: make(map[string]map[*listener]struct{})}
}

func (f *Feed) Publish(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	for l := range f.listeners[collection] {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *Feed) Listen(_ context.Context, collection string) (realtime.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &listener{feed: f, collection: collection, ch: make(chan struct{}, 1)}
	if f.listeners[collection] == nil {
		f.listeners[collection] = make(map[*listener]struct{})
	}
	f.listeners[collection][l] = struct{}{}
	return l, nil
}

// Listeners reports how many listeners are attached to collection.
func (f *Feed) Listeners(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[collection])
}

type listener struct {
	feed       *Feed
	collection string
	ch         chan struct{}
	once       sync.Once
}

func (l *listener) Changes() <-chan struct{} { return l.ch }

func (l *listener) Close() error {
	l.once.Do(func() {
		l.feed.mu.Lock()
		defer l.feed.mu.Unlock()
		delete(l.feed.listeners[l.collection], l)
		close(l.ch)
	})
	return nil
}

// NewStore wires a realtime.Store over fresh in-memory parts.
func NewStore(clock domain.Clock, opts ...realtime.StoreOption) (*realtime.Store, *Documents, *Feed) {
	docs := NewDocuments()
	feed := NewFeed()
	return realtime.NewStore(docs, feed, clock, opts...), docs, feed
}

var (
	_ realtime.Documents  = (*Documents)(nil)
	_ realtime.ChangeFeed = (*Feed)(nil)
)
