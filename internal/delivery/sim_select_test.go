package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/stretchr/testify/assert"
)

type stubPrefs struct {
	sub int
	err error
}

func (p stubPrefs) Preferred(ctx context.Context, address string) (int, error) {
	return p.sub, p.err
}

type stubHistory struct {
	sub int
	err error
}

func (h stubHistory) LastInboundSubscription(ctx context.Context, address string) (int, error) {
	return h.sub, h.err
}

func dualSimTransport(defaultSub int) *fakeTransport {
	t := newFakeTransport()
	t.subs = []Subscription{
		{Index: 0, ID: 11, Label: "Work"},
		{Index: 1, ID: 22, Label: "Personal"},
	}
	t.defaultSub = defaultSub
	return t
}

func TestSimSelector_PriorityChain(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit preference wins", func(t *testing.T) {
		selector := NewSimSelector(stubPrefs{sub: 22}, stubHistory{sub: 11}, dualSimTransport(11))
		assert.Equal(t, 22, selector.Select(ctx, "+15550001"))
	})

	t.Run("inbound history when no preference", func(t *testing.T) {
		selector := NewSimSelector(stubPrefs{sub: model.SubscriptionUnknown}, stubHistory{sub: 22}, dualSimTransport(11))
		assert.Equal(t, 22, selector.Select(ctx, "+15550001"))
	})

	t.Run("system default when neither applies", func(t *testing.T) {
		selector := NewSimSelector(
			stubPrefs{sub: model.SubscriptionUnknown},
			stubHistory{sub: model.SubscriptionUnknown},
			dualSimTransport(22),
		)
		assert.Equal(t, 22, selector.Select(ctx, "+15550001"))
	})

	t.Run("first slot as last resort", func(t *testing.T) {
		selector := NewSimSelector(
			stubPrefs{sub: model.SubscriptionUnknown},
			stubHistory{sub: model.SubscriptionUnknown},
			dualSimTransport(model.SubscriptionUnknown),
		)
		assert.Equal(t, 11, selector.Select(ctx, "+15550001"))
	})

	t.Run("stale preference falls through", func(t *testing.T) {
		// Preference points at a SIM no longer present.
		selector := NewSimSelector(stubPrefs{sub: 99}, stubHistory{sub: 22}, dualSimTransport(11))
		assert.Equal(t, 22, selector.Select(ctx, "+15550001"))
	})

	t.Run("lookup errors fall through", func(t *testing.T) {
		selector := NewSimSelector(
			stubPrefs{err: errors.New("db closed")},
			stubHistory{err: errors.New("db closed")},
			dualSimTransport(11),
		)
		assert.Equal(t, 11, selector.Select(ctx, "+15550001"))
	})

	t.Run("no subscriptions", func(t *testing.T) {
		selector := NewSimSelector(stubPrefs{sub: 11}, stubHistory{sub: 11}, newFakeTransport())
		assert.Equal(t, model.SubscriptionUnknown, selector.Select(ctx, "+15550001"))
	})
}
