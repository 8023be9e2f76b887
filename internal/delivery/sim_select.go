package delivery

import (
	"context"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
)

// SimPreferences exposes the user's explicit per-number SIM choice.
type SimPreferences interface {
	Preferred(ctx context.Context, address string) (int, error)
}

// InboundHistory resolves the SIM that most recently received a message
// from an address.
type InboundHistory interface {
	LastInboundSubscription(ctx context.Context, address string) (int, error)
}

// SimSelector resolves the sending SIM in priority order: the user's
// explicit per-number preference, then the SIM that most recently received
// from the address, then the transport's system default, then slot 0.
type SimSelector struct {
	prefs     SimPreferences
	history   InboundHistory
	transport Transport
}

func NewSimSelector(prefs SimPreferences, history InboundHistory, transport Transport) *SimSelector {
	return &SimSelector{
		prefs:     prefs,
		history:   history,
		transport: transport,
	}
}

func (s *SimSelector) Select(ctx context.Context, address string) int {
	subs := s.transport.Subscriptions()
	if len(subs) == 0 {
		return model.SubscriptionUnknown
	}

	if s.prefs != nil {
		preferred, err := s.prefs.Preferred(ctx, address)
		if err != nil {
			logger.Warn("sim preference lookup failed", "address", address, "error", err)
		} else if idx := indexOfSub(subs, preferred); idx >= 0 {
			return subs[idx].ID
		}
	}

	if s.history != nil {
		last, err := s.history.LastInboundSubscription(ctx, address)
		if err != nil {
			logger.Warn("inbound sim history lookup failed", "address", address, "error", err)
		} else if idx := indexOfSub(subs, last); idx >= 0 {
			return subs[idx].ID
		}
	}

	if idx := indexOfSub(subs, s.transport.DefaultSubscription()); idx >= 0 {
		return subs[idx].ID
	}

	return subs[0].ID
}

func indexOfSub(subs []Subscription, id int) int {
	if id == model.SubscriptionUnknown {
		return -1
	}
	for i, sub := range subs {
		if sub.ID == id {
			return i
		}
	}
	return -1
}
