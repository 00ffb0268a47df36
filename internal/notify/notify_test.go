package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIDs(t *testing.T) {
	testCases := []struct {
		in      string
		a, b    int64
		wantErr bool
	}{
		{in: "42:105", a: 42, b: 105},
		{in: "1:2", a: 1, b: 2},
		{in: "42", wantErr: true},
		{in: "a:b", wantErr: true},
		{in: "42:b", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		a, b, err := SplitIDs(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.a, a)
		assert.Equal(t, tc.b, b)
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	a, b, err := SplitIDs(JoinIDs(42, 105))
	require.NoError(t, err)
	assert.Equal(t, int64(42), a)
	assert.Equal(t, int64(105), b)
}

func TestPublishSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := New(srv.Addr(), "", 0)
	defer pub.Close()
	sub := New(srv.Addr(), "", 0)
	defer sub.Close()

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 4)

	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(subCtx, map[string]Handler{
			TopicCommit: func(_ context.Context, payload string) error {
				mu.Lock()
				got = append(got, "commit:"+payload)
				mu.Unlock()
				received <- struct{}{}
				return nil
			},
			TopicClose: func(_ context.Context, payload string) error {
				mu.Lock()
				got = append(got, "close:"+payload)
				mu.Unlock()
				received <- struct{}{}
				return nil
			},
		})
	}()

	// Give the subscriber a moment to register before publishing.
	require.Eventually(t, func() bool {
		return len(srv.PubSubChannels("*")) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, TopicCommit, JoinIDs(42, 105)))
	require.NoError(t, pub.Publish(ctx, TopicClose, JoinIDs(7, 9)))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("timed out waiting for messages")
		}
	}

	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"commit:42:105", "close:7:9"}, got)
}

func TestSubscribeIgnoresHandlerError(t *testing.T) {
	srv := miniredis.RunT(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := New(srv.Addr(), "", 0)
	defer pub.Close()
	sub := New(srv.Addr(), "", 0)
	defer sub.Close()

	received := make(chan string, 2)
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Subscribe(subCtx, map[string]Handler{
			TopicClose: func(_ context.Context, payload string) error {
				received <- payload
				return assert.AnError
			},
		})
	}()

	require.Eventually(t, func() bool {
		return len(srv.PubSubChannels("*")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Both messages arrive even though the handler fails on each.
	require.NoError(t, pub.Publish(ctx, TopicClose, "1:1"))
	require.NoError(t, pub.Publish(ctx, TopicClose, "2:2"))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("subscriber stopped after handler error")
		}
	}
}
