package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/errmap"
	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/aelexs/nextchapter/internal/realtime"
	"github.com/aelexs/nextchapter/pkg/protocol"
)

// maxClientFrameBytes bounds frames read from clients. Clients only send pongs.
const maxClientFrameBytes = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

var (
	errClientGone        = errors.New("client disconnected")
	errStreamEnded       = errors.New("stream ended")
	errTokenExpired      = errors.New("session token expired")
	errProtocolViolation = errors.New("malformed client frame")
)

// streamTimeline pushes a tick frame every second for ?mode=countdown|together.
func (h *Handler) streamTimeline(w http.ResponseWriter, r *http.Request) {
	mode, err := app.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.serveStream(w, r, string(mode), func(ctx context.Context, s *wsSession) error {
		return h.timeline.Run(ctx, mode, func(b domain.TimeBreakdown) error {
			return s.writeFrame(protocol.FrameTypeTick, protocol.Tick{
				Mode:      string(mode),
				Years:     b.Years,
				Months:    b.Months,
				Days:      b.Days,
				Hours:     b.Hours,
				Minutes:   b.Minutes,
				Seconds:   b.Seconds,
				Direction: string(b.Direction),
				At:        h.clock.Now().UnixMilli(),
			})
		})
	})
}

func (h *Handler) streamNotes(w http.ResponseWriter, r *http.Request) {
	h.streamBoard(w, r, domain.CollectionNotes, h.notes.Subscribe, func(snap realtime.Snapshot) any {
		return h.notes.Decode(snap)
	})
}

func (h *Handler) streamBucket(w http.ResponseWriter, r *http.Request) {
	h.streamBoard(w, r, domain.CollectionBucket, h.bucket.Subscribe, func(snap realtime.Snapshot) any {
		return h.bucket.Decode(snap)
	})
}

// streamBoard pushes a snapshot frame on connect and after every change to
// collection. Browsers cannot set headers on a WebSocket, so the session
// token comes in ?token=. The stream closes when the token expires.
func (h *Handler) streamBoard(
	w http.ResponseWriter,
	r *http.Request,
	collection string,
	subscribe func(context.Context) (*realtime.Subscription, error),
	decode func(realtime.Snapshot) any,
) {
	claims, err := h.security.Authorize(r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.serveStream(w, r, collection, func(ctx context.Context, s *wsSession) error {
		sub, err := subscribe(ctx)
		if err != nil {
			return err
		}
		defer sub.Close()

		expiry := time.NewTimer(tokenLifetime(claims, h.clock))
		defer expiry.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-expiry.C:
				return errTokenExpired
			case snap, ok := <-sub.C():
				if !ok {
					return errStreamEnded
				}
				items, err := json.Marshal(decode(snap))
				if err != nil {
					return fmt.Errorf("encode %s snapshot: %w", collection, err)
				}
				if err := s.writeFrame(protocol.FrameTypeSnapshot, protocol.Snapshot{
					Collection: collection,
					Items:      items,
					TakenAt:    snap.TakenAt.UnixMilli(),
				}); err != nil {
					return err
				}
			}
		}
	})
}

func tokenLifetime(claims *auth.Claims, clock domain.Clock) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Sub(clock.Now())
}

// serveStream upgrades the connection and runs produce alongside a read pump
// and a heartbeat. The first of them to stop ends the rest, and its error
// picks the close code sent to the client.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, stream string, produce func(context.Context, *wsSession) error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.log().Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := &wsSession{conn: conn}
	connID := uuid.NewString()
	logger := observability.WithTraceID(r.Context(), h.log()).With(
		slog.String("connection_id", connID),
		slog.String("stream", stream),
	)
	logger.Debug("stream opened")

	if err := s.writeFrame(protocol.FrameTypeConnectionAck, protocol.ConnectionAck{
		ConnectionID:        connID,
		Stream:              stream,
		HeartbeatIntervalMs: int(domain.HeartbeatInterval / time.Millisecond),
	}); err != nil {
		_ = conn.Close()
		return
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.readPump() })
	g.Go(func() error { return s.heartbeat(ctx) })
	g.Go(func() error {
		if err := produce(ctx, s); err != nil {
			return err
		}
		return errStreamEnded
	})
	g.Go(func() error {
		<-ctx.Done()
		s.close(h.closeFor(r.Context(), context.Cause(ctx)))
		return nil
	})
	cause := g.Wait()

	switch {
	case errors.Is(cause, errClientGone),
		errors.Is(cause, errStreamEnded),
		errors.Is(cause, errTokenExpired),
		errors.Is(cause, context.Canceled):
		logger.Debug("stream closed", slog.String("reason", cause.Error()))
	default:
		logger.Warn("stream failed", slog.String("error", cause.Error()))
	}
}

// closeFor picks the close frame for the cause that ended a stream.
func (h *Handler) closeFor(reqCtx context.Context, cause error) *errmap.WebSocketClose {
	switch {
	case errors.Is(cause, errClientGone):
		return nil
	case reqCtx.Err() != nil:
		return &errmap.CloseServerShutdown
	case errors.Is(cause, errTokenExpired):
		return &errmap.CloseTokenExpired
	case errors.Is(cause, errProtocolViolation):
		return &errmap.CloseProtocolViolation
	case errors.Is(cause, errStreamEnded):
		wc := errmap.ToWebSocketClose(nil)
		return &wc
	}
	wc := errmap.ToWebSocketClose(cause)
	return &wc
}

// wsSession serializes writes to one connection. gorilla/websocket allows
// one concurrent writer; WriteControl and Close are safe from any goroutine.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) writeFrame(t protocol.FrameType, payload any) error {
	frame, err := protocol.NewFrame(t, payload)
	if err != nil {
		return fmt.Errorf("build %s frame: %w", t, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(domain.WSWriteTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", t, err)
	}
	return nil
}

// readPump consumes client frames until the connection fails. Control pongs
// and JSON pongs both extend the read deadline.
func (s *wsSession) readPump() error {
	s.conn.SetReadLimit(maxClientFrameBytes)
	extend := func() error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * domain.HeartbeatInterval))
	}
	if err := extend(); err != nil {
		return fmt.Errorf("%w: %w", errClientGone, err)
	}
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		var frame protocol.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return errProtocolViolation
			}
			return fmt.Errorf("%w: %w", errClientGone, err)
		}
		switch frame.Type {
		case protocol.FrameTypePong:
			if err := extend(); err != nil {
				return fmt.Errorf("%w: %w", errClientGone, err)
			}
		case protocol.FrameTypePing:
			var ping protocol.Ping
			_ = frame.ParsePayload(&ping)
			if err := s.writeFrame(protocol.FrameTypePong, protocol.Pong{Timestamp: ping.Timestamp}); err != nil {
				return fmt.Errorf("%w: %w", errClientGone, err)
			}
		}
	}
}

// heartbeat sends a control ping every HeartbeatInterval.
func (s *wsSession) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(domain.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, t.Add(domain.WSWriteTimeout)); err != nil {
				return fmt.Errorf("%w: %w", errClientGone, err)
			}
		}
	}
}

// close sends a connection_closing frame and a close control frame when wc
// is set, then closes the connection.
func (s *wsSession) close(wc *errmap.WebSocketClose) {
	if wc != nil {
		_ = s.writeFrame(protocol.FrameTypeConnectionClosing, protocol.ConnectionClosing{Reason: wc.Reason, Code: wc.Code})
		msg := websocket.FormatCloseMessage(wc.Code, wc.Reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	_ = s.conn.Close()
}
