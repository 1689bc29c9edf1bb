package adapter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/nextchapter/internal/realtime"
	redisclient "github.com/aelexs/nextchapter/internal/redis"
)

// changeChannelPrefix namespaces change notifications: changes:{collection}.
const changeChannelPrefix = "changes:"

// ChangeFeed implements realtime.ChangeFeed over Redis pub/sub so every
// replica's subscribers hear about writes made on any replica.
type ChangeFeed struct {
	rdb redisclient.PubSubCmdable
}

// NewChangeFeed creates a ChangeFeed that uses rdb for pub/sub.
func NewChangeFeed(rdb redisclient.PubSubCmdable) *ChangeFeed {
	return &ChangeFeed{rdb: rdb}
}

var _ realtime.ChangeFeed = (*ChangeFeed)(nil)

// Publish announces that collection changed.
func (f *ChangeFeed) Publish(ctx context.Context, collection string) error {
	ctx, span := tracer.Start(ctx, "redis.changefeed.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "PUBLISH"),
		attribute.String("db.collection", collection),
	)

	if err := f.rdb.Publish(ctx, changeChannelPrefix+collection, collection).Err(); err != nil {
		failSpan(span, err)
		return fmt.Errorf("publish change %q: %w", collection, err)
	}
	return nil
}

// Listen subscribes to changes of collection. The subscription is confirmed
// before Listen returns, so a publish issued afterwards is never missed.
func (f *ChangeFeed) Listen(ctx context.Context, collection string) (realtime.Listener, error) {
	ctx, span := tracer.Start(ctx, "redis.changefeed.listen")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SUBSCRIBE"),
		attribute.String("db.collection", collection),
	)

	ps := f.rdb.Subscribe(ctx, changeChannelPrefix+collection)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		failSpan(span, err)
		return nil, fmt.Errorf("subscribe changes %q: %w", collection, err)
	}

	l := &redisListener{
		ps:   ps,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

// redisListener collapses bursts of messages into a single pending signal.
type redisListener struct {
	ps   *redisclient.PubSub
	ch   chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func (l *redisListener) pump() {
	defer close(l.done)
	defer close(l.ch)
	for range l.ps.Channel() {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}

func (l *redisListener) Changes() <-chan struct{} { return l.ch }

// Close unsubscribes and waits for the pump goroutine to exit.
func (l *redisListener) Close() error {
	l.once.Do(func() {
		l.err = l.ps.Close()
		<-l.done
	})
	return l.err
}
