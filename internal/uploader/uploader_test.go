package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luzzy/message-sync/internal/backend"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageStore struct {
	mu      sync.Mutex
	history []*model.Message
	read    map[int64]bool
	unread  map[int64]bool
}

func newFakeMessageStore(history ...*model.Message) *fakeMessageStore {
	return &fakeMessageStore{
		history: history,
		read:    make(map[int64]bool),
		unread:  make(map[int64]bool),
	}
}

func (s *fakeMessageStore) ListHistory(ctx context.Context, address string, since time.Time) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, m := range s.history {
		if m.Address == address {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) MarkRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[id] = true
	return nil
}

func (s *fakeMessageStore) MarkUnread(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread[id] = true
	return nil
}

func (s *fakeMessageStore) wasRead(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read[id]
}

func (s *fakeMessageStore) wasMarkedUnread(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[id]
}

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	failures int // fail this many calls before succeeding
	reject   map[string]bool
	err      error
	requests []*backend.UploadRequest
	tokens   []string
}

func (b *fakeBackend) Upload(ctx context.Context, token string, req *backend.UploadRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.requests = append(b.requests, req)
	b.tokens = append(b.tokens, token)
	if b.reject != nil && b.reject[token] {
		return backend.ErrUnauthorized
	}
	if b.failures > 0 {
		b.failures--
		if b.err != nil {
			return b.err
		}
		return errors.New("backend unavailable")
	}
	return nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) lastRequest() *backend.UploadRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

type fakeCreds struct {
	mu        sync.Mutex
	token     string
	next      string
	refreshes int
}

func (c *fakeCreds) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *fakeCreds) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	c.token = c.next
	return c.token, nil
}

func (c *fakeCreds) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

type failureRecorder struct {
	mu     sync.Mutex
	failed []int64
}

func (r *failureRecorder) UploadFailed(messageID int64, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, messageID)
}

func (r *failureRecorder) failedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.failed...)
}

func startUploader(t *testing.T, store MessageStore, be Backend, creds CredentialSource, notifier Notifier, opts Options) *Uploader {
	t.Helper()
	if opts.DevicePhone == "" {
		opts.DevicePhone = "+15550000"
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
	}
	if opts.BackoffCeiling == 0 {
		opts.BackoffCeiling = 5 * time.Millisecond
	}
	u := New(store, be, creds, notifier, opts)
	go u.Start() //nolint:errcheck
	t.Cleanup(u.Close)
	return u
}

func outbound(id int64, address, body string, ts int64) *model.Message {
	return &model.Message{ID: id, Address: address, Direction: model.DirectionOutbound, Body: body, DateMs: ts}
}

func inbound(id int64, address, body string, ts int64) *model.Message {
	return &model.Message{ID: id, Address: address, Direction: model.DirectionInbound, Body: body, DateMs: ts}
}

func TestUploader_SuccessMarksRead(t *testing.T) {
	msg := outbound(1, "+15550001", "hello", 1000)
	store := newFakeMessageStore(msg, inbound(2, "+15550001", "hey", 1500))
	be := &fakeBackend{}
	creds := &fakeCreds{token: "tok"}
	u := startUploader(t, store, be, creds, nil, Options{})

	u.Enqueue(msg)
	u.Flush()

	require.Equal(t, 1, be.callCount())
	req := be.lastRequest()
	assert.Equal(t, "+15550000", req.From)
	assert.Equal(t, "+15550001", req.To)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "+15550000", req.Messages[0].From)
	assert.Equal(t, "+15550001", req.Messages[1].From)
	assert.True(t, store.wasRead(1))
	assert.Zero(t, u.Pending())
}

func TestUploader_BatchIncludesTriggerWhenOutsideHistory(t *testing.T) {
	msg := outbound(7, "+15550001", "orphan", 500)
	store := newFakeMessageStore() // history lookup returns nothing
	be := &fakeBackend{}
	u := startUploader(t, store, be, &fakeCreds{token: "tok"}, nil, Options{})

	u.Enqueue(msg)
	u.Flush()

	req := be.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "orphan", req.Messages[0].Message)
}

func TestUploader_UnauthorizedRefreshesThenRetries(t *testing.T) {
	msg := outbound(1, "+15550001", "hello", 1000)
	store := newFakeMessageStore(msg)
	be := &fakeBackend{reject: map[string]bool{"stale": true}}
	creds := &fakeCreds{token: "stale", next: "fresh"}
	u := startUploader(t, store, be, creds, nil, Options{MaxAttempts: 5})

	u.Enqueue(msg)

	// The rejected attempt refreshes once; the backoff retry carries the
	// fresh token.
	require.Eventually(t, func() bool { return store.wasRead(1) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, be.callCount())
	assert.Equal(t, 1, creds.refreshCount())
	assert.Equal(t, []string{"stale", "fresh"}, be.tokens)
}

func TestUploader_RetriesThenSucceeds(t *testing.T) {
	msg := outbound(1, "+15550001", "hello", 1000)
	store := newFakeMessageStore(msg)
	be := &fakeBackend{failures: 2}
	u := startUploader(t, store, be, &fakeCreds{token: "tok"}, nil, Options{MaxAttempts: 5})

	u.Enqueue(msg)

	require.Eventually(t, func() bool { return store.wasRead(1) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, be.callCount())
	assert.Zero(t, u.Pending())
}

func TestUploader_ExhaustedRetriesMarkUnreadAndNotify(t *testing.T) {
	msg := outbound(1, "+15550001", "hello", 1000)
	store := newFakeMessageStore(msg)
	be := &fakeBackend{failures: 100}
	notifier := &failureRecorder{}
	u := startUploader(t, store, be, &fakeCreds{token: "tok"}, notifier, Options{MaxAttempts: 3})

	u.Enqueue(msg)

	require.Eventually(t, func() bool { return store.wasMarkedUnread(1) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1}, notifier.failedIDs())
	assert.Equal(t, 3, be.callCount())
	assert.False(t, store.wasRead(1))
	assert.Zero(t, u.Pending())
}

func TestUploader_ReplaceSupersedesPendingJob(t *testing.T) {
	store := newFakeMessageStore()
	be := &fakeBackend{}
	// One worker keeps processing sequential so the superseding job always
	// decides the final upload.
	u := startUploader(t, store, be, &fakeCreds{token: "tok"}, nil, Options{Workers: 1})

	u.Enqueue(outbound(9, "+15550001", "first draft", 100))
	u.Enqueue(outbound(9, "+15550001", "final text", 200))
	u.Flush()

	require.Eventually(t, func() bool { return u.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	req := be.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "final text", req.Messages[0].Message)
}

func TestUploader_Backoff(t *testing.T) {
	u := New(newFakeMessageStore(), &fakeBackend{}, &fakeCreds{}, nil, Options{
		BackoffBase:    10 * time.Second,
		BackoffCeiling: 10 * time.Minute,
	})
	defer u.Close()

	assert.Equal(t, 10*time.Second, u.backoff(1))
	assert.Equal(t, 20*time.Second, u.backoff(2))
	assert.Equal(t, 40*time.Second, u.backoff(3))
	assert.Equal(t, 10*time.Minute, u.backoff(12))
}
