package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/pkg/protocol"
)

func setTimeline(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("TIMELINE_ZONE", "Asia/Tokyo")
	t.Setenv("TIMELINE_COUNTDOWN", "2025-07-20T00:00:00+09:00")
	t.Setenv("TIMELINE_TOGETHER", "2024-07-20T00:00:00+09:00")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBreakdownJSON(t *testing.T) {
	setTimeline(t)

	out, err := execute(t, "countdown", "--at", "2025-06-30T00:00:00+09:00", "--json")

	require.NoError(t, err)
	var b domain.TimeBreakdown
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, domain.TimeBreakdown{Days: 20, Direction: domain.CountingDown}, b)
}

func TestBreakdownText(t *testing.T) {
	setTimeline(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "counting down",
			args: []string{"countdown", "--at", "2025-07-19T23:59:30+09:00"},
			want: "Until the next chapter\n  Years 0  Months 0  Days 0  Hours 0  Minutes 0  Seconds 30\n",
		},
		{
			name: "countdown target passed",
			args: []string{"countdown", "--at", "2025-07-20T00:00:05+09:00"},
			want: "Since the next chapter began\n  Years 0  Months 0  Days 0  Hours 0  Minutes 0  Seconds 5\n",
		},
		{
			name: "together",
			args: []string{"together", "--at", "2025-06-30T12:34:56+09:00"},
			want: "Together for\n  Years 0  Months 11  Days 10  Hours 12  Minutes 34  Seconds 56\n",
		},
		{
			name: "other zone reads the clock there",
			args: []string{"together", "--at", "2025-06-30T12:34:56+09:00", "--tz", "UTC"},
			want: "Together for\n  Years 0  Months 11  Days 11  Hours 3  Minutes 34  Seconds 56\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)

			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestBreakdownErrors(t *testing.T) {
	setTimeline(t)

	_, err := execute(t, "countdown", "--at", "yesterday")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "together", "--tz", "Mars/Olympus_Mons")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = execute(t, "countdown", "extra")
	assert.Error(t, err)
}

func TestWatchPrintsTicks(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/countdown" || r.URL.Query().Get("mode") != "together" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ack, _ := protocol.NewFrame(protocol.FrameTypeConnectionAck, protocol.ConnectionAck{ConnectionID: "c1", Stream: "together"})
		tick, _ := protocol.NewFrame(protocol.FrameTypeTick, protocol.Tick{Mode: "together", Months: 11, Days: 10, Direction: "counting_forward"})
		_ = conn.WriteJSON(ack)
		_ = conn.WriteJSON(tick)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server_shutdown"), time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	out, err := execute(t, "watch", "--server", "ws"+srv.URL[len("http"):], "--mode", "together")

	require.NoError(t, err)
	assert.Equal(t, "Together for\n  Years 0  Months 11  Days 10  Hours 0  Minutes 0  Seconds 0\n", out)
}

func TestWatchRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "watch", "--mode", "sideways")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
