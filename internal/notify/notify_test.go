package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Config{Events: []string{"position_opened", " order_failed "}}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "Position opened", "long 1"))
	require.NoError(t, n.Notify(context.Background(), "position_closed", "Position closed", "x"))
	require.NoError(t, n.Notify(context.Background(), "order_failed", "Order failed", "x"))
	require.Equal(t, 2, s.count())

	require.NoError(t, n.NotifyAll(context.Background(), "Shutdown", "bye"))
	require.Equal(t, 3, s.count())
}

func TestNotifyThrottlesPerEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, Config{MinInterval: time.Hour}, discardLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), "order_failed", "Order failed", "close"))
	}
	require.NoError(t, n.Notify(context.Background(), "position_closed", "Position closed", "x"))
	require.Equal(t, 2, s.count())
}

func TestDispatchJoinsSenderErrors(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, good}, Config{}, discardLogger())

	err := n.Notify(context.Background(), "order_failed", "Order failed", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad: boom")
	require.Equal(t, 1, good.count())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42", srv.URL)
	require.NoError(t, s.Send(context.Background(), "Position opened", "long 0.5 @ 100"))
	require.Equal(t, "/botTOKEN/sendMessage", path)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "*Position opened*\nlong 0.5 @ 100", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Error(), "slow down")
}

func TestDiscordSenderSuccess(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Order failed", "close"))
	require.Equal(t, "**Order failed**\nclose", content)
}
