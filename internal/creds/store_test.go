package creds

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/luzzy/message-sync/internal/backend"
	"github.com/luzzy/message-sync/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) redis.RedisAdapter {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return adapter
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls atomic.Int64
	next  string
	err   error
	last  *backend.RegisterRequest
}

func (f *fakeRegistrar) Register(ctx context.Context, req *backend.RegisterRequest) (*backend.RegisterResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &backend.RegisterResponse{Token: f.next}, nil
}

func TestStore_TokenLifecycle(t *testing.T) {
	adapter := setupTestRedis(t)
	registrar := &fakeRegistrar{next: "token-1"}
	store := NewStore(adapter, registrar, "+15550000")

	_, err := store.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	token, err := store.Refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	got, err := store.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-1", got)
	assert.Equal(t, int64(1), registrar.calls.Load())
}

func TestStore_RefreshSkipsWhenAlreadyRotated(t *testing.T) {
	adapter := setupTestRedis(t)
	registrar := &fakeRegistrar{next: "token-1"}
	store := NewStore(adapter, registrar, "+15550000")

	first, err := store.Refresh(context.Background(), "")
	require.NoError(t, err)

	// A caller holding a token older than the stored one gets the stored
	// one back without a register round trip.
	registrar.next = "token-2"
	got, err := store.Refresh(context.Background(), "stale-token")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, int64(1), registrar.calls.Load())

	// A caller whose rejected token IS the stored one forces a real
	// refresh.
	got, err = store.Refresh(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "token-2", got)
	assert.Equal(t, int64(2), registrar.calls.Load())
}

func TestStore_SetPushTokenReRegisters(t *testing.T) {
	adapter := setupTestRedis(t)
	registrar := &fakeRegistrar{next: "token-1"}
	store := NewStore(adapter, registrar, "+15550000")

	require.NoError(t, store.SetPushToken(context.Background(), "push-abc"))

	registrar.mu.Lock()
	last := registrar.last
	registrar.mu.Unlock()
	require.NotNil(t, last)
	assert.Equal(t, "+15550000", last.Phone)
	assert.Equal(t, "push-abc", last.RegistrationToken)

	pt, err := store.PushToken()
	require.NoError(t, err)
	assert.Equal(t, "push-abc", pt)
}

func TestStore_PushTokenEmptyWhenUnset(t *testing.T) {
	adapter := setupTestRedis(t)
	store := NewStore(adapter, &fakeRegistrar{}, "+15550000")

	pt, err := store.PushToken()
	require.NoError(t, err)
	assert.Empty(t, pt)
}
