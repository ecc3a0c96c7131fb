package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	fail  bool
	sends []string
}

func (s *fakeSender) Send(ctx context.Context, title, message string) error {
	if s.fail {
		return errors.New("boom")
	}
	s.sends = append(s.sends, title)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

type fakeLimiter struct {
	keys []string
	err  error
}

func (l *fakeLimiter) Wait(ctx context.Context, key string) error {
	l.keys = append(l.keys, key)
	return l.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"auction_ended"}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), "new_bid", "bid", "ignored"))
	require.NoError(t, n.Notify(context.Background(), "auction_ended", "ended", "sent"))

	require.Len(t, s.sends, 1)
	assert.Equal(t, "ended", s.sends[0])
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, []string{"auction_ended"}, nil, discard())

	require.NoError(t, n.NotifyAll(context.Background(), "starting", "operator notice"))

	require.Len(t, s.sends, 1)
	assert.Equal(t, "starting", s.sends[0])
}

func TestDispatchThrottlesPerSender(t *testing.T) {
	tg := &fakeSender{name: "telegram"}
	dc := &fakeSender{name: "discord"}
	lim := &fakeLimiter{}
	n := NewNotifier([]Sender{tg, dc}, nil, lim, discard())

	require.NoError(t, n.Notify(context.Background(), "auction_ended", "ended", "m"))

	assert.Equal(t, []string{"notify:telegram", "notify:discord"}, lim.keys)
	assert.Len(t, tg.sends, 1)
	assert.Len(t, dc.sends, 1)
}

func TestDispatchLimiterFailureSkipsSendersButReportsError(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	lim := &fakeLimiter{err: errors.New("redis down")}
	n := NewNotifier([]Sender{s}, nil, lim, discard())

	err := n.Notify(context.Background(), "auction_ended", "ended", "m")
	require.Error(t, err)
	assert.Empty(t, s.sends)
}

func TestDispatchOneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", fail: true}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, nil, discard())

	err := n.Notify(context.Background(), "auction_ended", "ended", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	require.Len(t, good.sends, 1)
}
