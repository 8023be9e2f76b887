package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu       sync.Mutex
	captured []*model.Message
}

func (c *captureRecorder) Capture(msg *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured = append(c.captured, msg)
}

func TestReceiver_PersistsInboundAndCaptures(t *testing.T) {
	store := newFakeStore()
	capture := &captureRecorder{}
	r := NewReceiver(store, store, capture)

	at := time.Unix(1700000000, 0)
	msg, err := r.Receive(context.Background(), "+1 (555) 010-0100", "hey there", 1, at)
	require.NoError(t, err)

	assert.Equal(t, model.DirectionInbound, msg.Direction)
	assert.Equal(t, model.MessageStatusDelivered, msg.Status)
	assert.False(t, msg.Read)
	assert.Equal(t, at.Unix(), msg.Date)
	assert.Equal(t, model.NormalizeAddress("+1 (555) 010-0100"), msg.Address)
	assert.NotZero(t, msg.ThreadID)

	stored, err := store.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hey there", stored.Body)

	require.Len(t, capture.captured, 1)
	assert.Equal(t, msg.ID, capture.captured[0].ID)
}

func TestReceiver_SameSenderSameThread(t *testing.T) {
	store := newFakeStore()
	r := NewReceiver(store, store, nil)

	first, err := r.Receive(context.Background(), "5550100", "one", 1, time.Now())
	require.NoError(t, err)
	second, err := r.Receive(context.Background(), "555-0100", "two", 1, time.Now())
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
}

func TestReceiver_RejectsEmptySender(t *testing.T) {
	store := newFakeStore()
	r := NewReceiver(store, store, nil)

	_, err := r.Receive(context.Background(), "   ", "body", 1, time.Now())
	assert.ErrorIs(t, err, ErrEmptyDestination)
}
