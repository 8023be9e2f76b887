package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testThread int64 = 42

// fakeStore serves a fixed ascending history and records read marks.
type fakeStore struct {
	mu       sync.Mutex
	messages []*model.Message
	recycled map[int64]struct{}
	read     map[int64]bool
}

func newFakeStore(messages ...*model.Message) *fakeStore {
	return &fakeStore{
		messages: messages,
		recycled: make(map[int64]struct{}),
		read:     make(map[int64]bool),
	}
}

func (s *fakeStore) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Message
	for _, m := range s.messages {
		if f.ThreadID != nil && m.ThreadID != *f.ThreadID {
			continue
		}
		if f.Before != nil && m.Date >= *f.Before {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	if f.Desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[id] = true
	return nil
}

func (s *fakeStore) RecycledIDs(ctx context.Context, threadID int64) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]struct{}, len(s.recycled))
	for id := range s.recycled {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) add(m *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// msg builds a read outbound message at the given second offset.
func msg(id int64, sec int64) *model.Message {
	return &model.Message{
		ID:             id,
		ThreadID:       testThread,
		Address:        "+15550001",
		Direction:      model.DirectionOutbound,
		Body:           "m",
		Date:           sec,
		DateMs:         sec * 1000,
		Status:         model.MessageStatusSent,
		SubscriptionID: 1,
		Read:           true,
	}
}

func ids(snap Snapshot) []int64 {
	out := make([]int64, len(snap.Messages))
	for i, m := range snap.Messages {
		out[i] = m.ID
	}
	return out
}

func TestManager_LoadInitialIdempotent(t *testing.T) {
	store := newFakeStore(msg(1, 100), msg(2, 200), msg(3, 300))
	mgr := NewManager(store, testThread, Options{})

	first, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)
	second, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, ids(first))
	assert.Equal(t, ids(first), ids(second))
	assert.Equal(t, first.Version, second.Version, "no-op reload must not publish a new version")
}

func TestManager_LoadInitialMergesNewArrivals(t *testing.T) {
	store := newFakeStore(msg(1, 100), msg(2, 200))
	mgr := NewManager(store, testThread, Options{})

	_, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	store.add(msg(3, 150)) // arrives out of order
	snap, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 2}, ids(snap), "merged by identity, re-sorted by timestamp")
}

func TestManager_CapTrimsOldest(t *testing.T) {
	store := newFakeStore()
	for i := int64(1); i <= 10; i++ {
		store.add(msg(i, i*100))
	}
	mgr := NewManager(store, testThread, Options{Cap: 5})

	snap, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{6, 7, 8, 9, 10}, ids(snap))
}

func TestManager_LoadOlder(t *testing.T) {
	store := newFakeStore()
	for i := int64(1); i <= 8; i++ {
		store.add(msg(i, i*100))
	}
	mgr := NewManager(store, testThread, Options{Cap: 4, OlderPageLimit: 2})

	snap, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6, 7, 8}, ids(snap))

	ok, err := mgr.LoadOlder(context.Background(), 500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4, 5, 6, 7, 8}, ids(mgr.Snapshot()))
	assert.False(t, mgr.Snapshot().Exhausted)
}

func TestManager_LoadOlderFiltersRecycled(t *testing.T) {
	store := newFakeStore(msg(1, 100), msg(2, 200), msg(3, 300))
	store.recycled[2] = struct{}{}
	mgr := NewManager(store, testThread, Options{})

	ok, err := mgr.LoadOlder(context.Background(), 400)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 3}, ids(mgr.Snapshot()))
}

func TestManager_LoadOlderExhausts(t *testing.T) {
	store := newFakeStore(msg(1, 100))
	mgr := NewManager(store, testThread, Options{})

	_, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	ok, err := mgr.LoadOlder(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mgr.Snapshot().Exhausted)

	// Further pages are refused without touching the store.
	ok, err = mgr.LoadOlder(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_JumpTo(t *testing.T) {
	store := newFakeStore()
	for i := int64(1); i <= 20; i++ {
		store.add(msg(i, i*100))
	}
	mgr := NewManager(store, testThread, Options{Cap: 5, OlderPageLimit: 3})

	_, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	idx, err := mgr.JumpTo(context.Background(), 2)
	require.NoError(t, err)
	got := mgr.Snapshot().Messages[idx]
	assert.Equal(t, int64(2), got.ID)

	_, err = mgr.JumpTo(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, mgr.Snapshot().Exhausted)
}

func TestManager_ApplyStatusUpdate(t *testing.T) {
	store := newFakeStore(msg(1, 100))
	mgr := NewManager(store, testThread, Options{})

	_, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	updated := msg(1, 100)
	updated.Status = model.MessageStatusDelivered
	mgr.Apply(updated)

	snap := mgr.Snapshot()
	assert.Equal(t, model.MessageStatusDelivered, snap.Messages[0].Status)

	// Foreign-thread messages are ignored.
	foreign := msg(99, 900)
	foreign.ThreadID = testThread + 1
	mgr.Apply(foreign)
	assert.Len(t, mgr.Snapshot().Messages, 1)
}

func TestManager_ProjectSeparators(t *testing.T) {
	ctx := context.Background()

	t.Run("gap over threshold inserts one separator", func(t *testing.T) {
		store := newFakeStore(msg(1, 0), msg(2, 400))
		mgr := NewManager(store, testThread, Options{})
		_, err := mgr.LoadInitial(ctx)
		require.NoError(t, err)

		items := mgr.Project(ctx)
		var between int
		seenFirst := false
		for _, it := range items {
			if it.Kind == model.ThreadItemMessage {
				seenFirst = true
			}
			if it.Kind == model.ThreadItemDateTime && seenFirst {
				between++
			}
		}
		assert.Equal(t, 1, between)
	})

	t.Run("gap under threshold inserts none", func(t *testing.T) {
		store := newFakeStore(msg(1, 0), msg(2, 100))
		mgr := NewManager(store, testThread, Options{})
		_, err := mgr.LoadInitial(ctx)
		require.NoError(t, err)

		items := mgr.Project(ctx)
		separators := 0
		for _, it := range items {
			if it.Kind == model.ThreadItemDateTime {
				separators++
			}
		}
		// Only the leading separator before the first message.
		assert.Equal(t, 1, separators)
	})

	t.Run("sim change inserts separator despite small gap", func(t *testing.T) {
		a := msg(1, 0)
		b := msg(2, 100)
		b.SubscriptionID = 2
		store := newFakeStore(a, b)
		mgr := NewManager(store, testThread, Options{})
		_, err := mgr.LoadInitial(ctx)
		require.NoError(t, err)

		items := mgr.Project(ctx)
		separators := 0
		for _, it := range items {
			if it.Kind == model.ThreadItemDateTime {
				separators++
			}
		}
		assert.Equal(t, 2, separators)
	})
}

func TestManager_ProjectMarkers(t *testing.T) {
	ctx := context.Background()

	failed := msg(1, 100)
	failed.Status = model.MessageStatusFailed
	sending := msg(2, 200)
	sending.Status = model.MessageStatusQueued
	last := msg(3, 300)
	last.Status = model.MessageStatusDelivered

	store := newFakeStore(failed, sending, last)
	mgr := NewManager(store, testThread, Options{})
	_, err := mgr.LoadInitial(ctx)
	require.NoError(t, err)

	items := mgr.Project(ctx)

	kinds := make(map[model.ThreadItemKind]int)
	for _, it := range items {
		kinds[it.Kind]++
	}
	assert.Equal(t, 1, kinds[model.ThreadItemError])
	assert.Equal(t, 1, kinds[model.ThreadItemSending])
	assert.Equal(t, 1, kinds[model.ThreadItemSent])

	// The sent marker belongs to the final message and records delivery.
	lastItem := items[len(items)-1]
	require.Equal(t, model.ThreadItemSent, lastItem.Kind)
	assert.Equal(t, int64(3), lastItem.MessageID)
	assert.True(t, lastItem.Delivered)
}

func TestManager_ProjectMarksReadAndSignals(t *testing.T) {
	unread := msg(1, 100)
	unread.Direction = model.DirectionInbound
	unread.Read = false
	store := newFakeStore(unread)
	mgr := NewManager(store, testThread, Options{})

	_, err := mgr.LoadInitial(context.Background())
	require.NoError(t, err)

	mgr.Project(context.Background())

	assert.True(t, store.read[1])
	select {
	case <-mgr.Changed():
	case <-time.After(time.Second):
		t.Fatal("expected changed signal after marking read")
	}

	// The side effect is reflected in later snapshots, so the next
	// projection does not re-mark.
	assert.True(t, mgr.Snapshot().Messages[0].Read)
}
