package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"entry_filled"}, silentLogger())

	require.NoError(t, n.Notify(context.Background(), "entry_filled", "filled", "msg"))
	require.NoError(t, n.Notify(context.Background(), "exit_filled", "exit", "msg"))

	assert.Equal(t, []string{"filled"}, s.titles)
}

func TestNotifyWithoutConfiguredEventsPassesAll(t *testing.T) {
	s := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, silentLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t1", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "t2", "m"))

	assert.Equal(t, []string{"t1", "t2"}, s.titles)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	broken := &recordingSender{name: "telegram", err: errors.New("api down")}
	healthy := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{broken, healthy}, nil, silentLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Equal(t, []string{"title"}, healthy.titles)
}

func TestNotifyWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, silentLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
}
