package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/pkg/protocol"
)

func newWatchCmd() *cobra.Command {
	var (
		server string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running service's countdown stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := app.ParseMode(mode)
			if err != nil {
				return err
			}
			return watch(cmd, server, m)
		},
	}
	cmd.Flags().StringVar(&server, "server", "ws://localhost:8080", "service base URL")
	cmd.Flags().StringVar(&mode, "mode", string(app.ModeCountdown), "countdown or together")
	return cmd
}

// watch prints every tick until the server closes the stream or the
// command's context is cancelled.
func watch(cmd *cobra.Command, server string, mode app.Mode) error {
	ctx := cmd.Context()

	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("--server %q: %w", server, domain.ErrInvalidInput)
	}
	u = u.JoinPath("/ws/countdown")
	u.RawQuery = url.Values{"mode": {string(mode)}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("stream closed: %d %s", closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.Type != protocol.FrameTypeTick {
			continue
		}
		var tick protocol.Tick
		if err := frame.ParsePayload(&tick); err != nil {
			return fmt.Errorf("decode tick: %w", err)
		}
		if err := printBreakdown(cmd.OutOrStdout(), mode, domain.TimeBreakdown{
			Years:     tick.Years,
			Months:    tick.Months,
			Days:      tick.Days,
			Hours:     tick.Hours,
			Minutes:   tick.Minutes,
			Seconds:   tick.Seconds,
			Direction: domain.Direction(tick.Direction),
		}); err != nil {
			return err
		}
	}
}
