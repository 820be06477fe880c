package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_DeliversChangesOnly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	ch := Subscribe(ctx, 5*time.Millisecond, func(context.Context) (int, error) {
		// 0,0,0,1,1,1,2,2,2...
		return int(n.Add(1)-1) / 3, nil
	})

	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
}

func TestSubscribe_SkipsErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	ch := Subscribe(ctx, 5*time.Millisecond, func(context.Context) (string, error) {
		if n.Add(1) < 3 {
			return "", errors.New("offline")
		}
		return "ok", nil
	})

	select {
	case v := <-ch:
		assert.Equal(t, "ok", v)
	case <-time.After(2 * time.Second):
		t.Fatal("no value delivered")
	}
}

func TestSubscribe_SkipClosesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch := Subscribe[int](ctx, time.Millisecond, nil)

	select {
	case <-ch:
		t.Fatal("skip subscription must not deliver")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchBook_FollowsMemory(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	mem.PutBook(Book{ID: "b1", PageCount: 2, TeaserStatus: TeaserGenerating})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := WatchBook(ctx, mem, 5*time.Millisecond, "b1")
	first := <-ch
	require.Equal(t, TeaserGenerating, first.TeaserStatus)

	mem.PutBook(Book{ID: "b1", PageCount: 2, TeaserStatus: TeaserComplete})
	second := <-ch
	assert.Equal(t, TeaserComplete, second.TeaserStatus)
}
