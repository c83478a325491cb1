package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/dial/internal/core"
)

type watchRecorder struct {
	mu    sync.Mutex
	snaps []core.Snapshot
}

func (r *watchRecorder) fn(snap core.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *watchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *watchRecorder) at(i int) core.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[i]
}

func waitEvents(t *testing.T, r *watchRecorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, time.Second, 2*time.Millisecond)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	type rec struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, s.Set(ctx, "users/123", rec{Name: "alice", N: 7}))

	snap, err := s.Get(ctx, "users/123")
	require.NoError(t, err)
	require.True(t, snap.Exists())
	var got rec
	require.NoError(t, snap.Unmarshal(&got))
	assert.Equal(t, rec{Name: "alice", N: 7}, got)

	snap, err = s.Get(ctx, "users/999")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestUpdateMergesFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/1", map[string]any{"name": "alice", "status": "new"}))
	require.NoError(t, s.Update(ctx, "users/1", map[string]any{"status": "old"}))

	snap, err := s.Get(ctx, "users/1")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, snap.Unmarshal(&got))
	assert.Equal(t, "alice", got["name"])
	assert.Equal(t, "old", got["status"])
}

func TestDeleteRemovesSubtree(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "calls/abc/offer", map[string]any{"sdp": "x"}))
	require.NoError(t, s.Set(ctx, "calls/abc/answer", map[string]any{"sdp": "y"}))
	require.NoError(t, s.Delete(ctx, "calls/abc"))

	for _, p := range []string{"calls/abc", "calls/abc/offer", "calls/abc/answer"} {
		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.False(t, snap.Exists(), p)
	}
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	s := New()
	require.NoError(t, s.Delete(context.Background(), "nothing/here"))
}

func TestPushKeysFollowCreationOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		k, err := s.Push(ctx, "messages/a_b", map[string]any{"n": i})
		require.NoError(t, err)
		keys = append(keys, k)
	}

	snap, err := s.Get(ctx, "messages/a_b")
	require.NoError(t, err)
	children := snap.Children()
	require.Len(t, children, 5)
	for i, ch := range children {
		assert.Equal(t, keys[i], ch.Key)
		var v map[string]int
		require.NoError(t, ch.Value.Unmarshal(&v))
		assert.Equal(t, i, v["n"])
	}
}

func TestSubtreeSnapshotOverlaysChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "calls/abc", map[string]any{"callID": "abc"}))
	require.NoError(t, s.Set(ctx, "calls/abc/offer", map[string]any{"sdp": "x"}))

	snap, err := s.Get(ctx, "calls/abc")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, snap.Unmarshal(&got))
	assert.Equal(t, "abc", got["callID"])
	assert.Contains(t, got, "offer")
}

func TestWatchFiresInitialThenChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &watchRecorder{}

	un, err := s.Watch(ctx, "presence/1", rec.fn)
	require.NoError(t, err)
	defer un()

	waitEvents(t, rec, 1)
	assert.False(t, rec.at(0).Exists())

	require.NoError(t, s.Set(ctx, "presence/1", "online"))
	waitEvents(t, rec, 2)
	var p string
	require.NoError(t, rec.at(1).Unmarshal(&p))
	assert.Equal(t, "online", p)

	require.NoError(t, s.Delete(ctx, "presence/1"))
	waitEvents(t, rec, 3)
	assert.False(t, rec.at(2).Exists())
}

func TestWatchCoversSubtreeChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &watchRecorder{}

	un, err := s.Watch(ctx, "calls/abc", rec.fn)
	require.NoError(t, err)
	defer un()
	waitEvents(t, rec, 1)

	require.NoError(t, s.Set(ctx, "calls/abc/offer", map[string]any{"sdp": "x"}))
	waitEvents(t, rec, 2)
	var got map[string]any
	require.NoError(t, rec.at(1).Unmarshal(&got))
	assert.Contains(t, got, "offer")
}

func TestWatchIgnoresSiblings(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &watchRecorder{}

	un, err := s.Watch(ctx, "calls/a", rec.fn)
	require.NoError(t, err)
	defer un()
	waitEvents(t, rec, 1)

	require.NoError(t, s.Set(ctx, "calls/b", map[string]any{"callID": "b"}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &watchRecorder{}

	un, err := s.Watch(ctx, "presence/1", rec.fn)
	require.NoError(t, err)
	waitEvents(t, rec, 1)

	un()
	require.NoError(t, s.Set(ctx, "presence/1", "online"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestWatchSeesChangesInCommitOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &watchRecorder{}

	un, err := s.Watch(ctx, "counter", rec.fn)
	require.NoError(t, err)
	defer un()

	for i := 1; i <= 20; i++ {
		require.NoError(t, s.Set(ctx, "counter", i))
	}
	waitEvents(t, rec, 21)

	prev := 0
	for i := 1; i <= 20; i++ {
		var v int
		require.NoError(t, rec.at(i).Unmarshal(&v))
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestTransactClaimsOnlyWhenAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	claim := func() (bool, error) {
		return s.Transact(ctx, "users/123", func(cur core.Snapshot) (any, bool) {
			if cur.Exists() {
				return nil, false
			}
			return map[string]any{"owner": "me"}, true
		})
	}

	committed, err := claim()
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = claim()
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestTransactNilDeletes(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "calls/1", map[string]any{"callID": "1"}))
	committed, err := s.Transact(ctx, "calls/1", func(cur core.Snapshot) (any, bool) {
		return nil, cur.Exists()
	})
	require.NoError(t, err)
	require.True(t, committed)

	snap, err := s.Get(ctx, "calls/1")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestTransactIsAtomicUnderContention(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			committed, err := s.Transact(ctx, "slot", func(cur core.Snapshot) (any, bool) {
				if cur.Exists() {
					return nil, false
				}
				return n, true
			})
			require.NoError(t, err)
			if committed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}
