package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, err := hub.Connect(ctx, "public:abc")
	require.NoError(t, err)
	b, err := hub.Connect(ctx, "public:abc")
	require.NoError(t, err)
	other, err := hub.Connect(ctx, "public:xyz")
	require.NoError(t, err)

	got := make(chan string, 4)
	a.On("ready", func(p json.RawMessage) { got <- "a:" + string(p) })
	b.On("ready", func(p json.RawMessage) { got <- "b:" + string(p) })
	other.On("ready", func(p json.RawMessage) { got <- "other:" + string(p) })

	require.NoError(t, a.Send(ctx, "ready", json.RawMessage(`{}`)))

	select {
	case msg := <-got:
		require.Equal(t, "b:{}", msg)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	select {
	case msg := <-got:
		t.Fatalf("unexpected delivery %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, err := hub.Connect(ctx, "public:abc")
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, "payload", json.RawMessage(`{"iv":"x"}`)))

	late, err := hub.Connect(ctx, "public:abc")
	require.NoError(t, err)

	got := make(chan struct{}, 1)
	late.On("payload", func(json.RawMessage) { got <- struct{}{} })

	select {
	case <-got:
		t.Fatal("late subscriber received an earlier frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseRemovesSubscription(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, err := hub.Connect(ctx, "share:org:H7K2")
	require.NoError(t, err)
	require.Equal(t, 1, hub.Subscribers("share:org:H7K2"))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.Equal(t, 0, hub.Subscribers("share:org:H7K2"))

	require.ErrorIs(t, a.Send(ctx, "ready", json.RawMessage(`{}`)), ErrClosed)
}

func TestFailConnect(t *testing.T) {
	hub := NewHub()
	boom := errors.New("relay unreachable")
	hub.FailConnect(boom)

	_, err := hub.Connect(context.Background(), "public:abc")
	require.ErrorIs(t, err, boom)

	hub.FailConnect(nil)
	_, err = hub.Connect(context.Background(), "public:abc")
	require.NoError(t, err)
}
