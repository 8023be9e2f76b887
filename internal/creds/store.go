// Package creds keeps the device's backend credentials: the bearer token
// issued at registration and the push registration token the backend uses
// to reach this device. Both live in redis so every process sees the same
// credentials and a refresh in one worker is visible to all.
package creds

import (
	"context"
	"errors"
	"sync"

	"github.com/luzzy/message-sync/internal/backend"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/redis"
)

const (
	keyBearerToken = "creds:bearer_token"
	keyPushToken   = "creds:push_token"
)

var ErrNoToken = errors.New("creds: no token stored")

// Registrar is the slice of the backend client the store needs to mint a
// fresh token.
type Registrar interface {
	Register(ctx context.Context, req *backend.RegisterRequest) (*backend.RegisterResponse, error)
}

type Store struct {
	redis     redis.RedisAdapter
	registrar Registrar
	phone     string

	// refreshMu collapses concurrent refresh attempts into one register
	// call.
	refreshMu sync.Mutex
}

func NewStore(adapter redis.RedisAdapter, registrar Registrar, phone string) *Store {
	return &Store{redis: adapter, registrar: registrar, phone: phone}
}

// Token returns the stored bearer token, or ErrNoToken when the device has
// never registered.
func (s *Store) Token() (string, error) {
	val, err := s.redis.Get(keyBearerToken)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return "", ErrNoToken
		}
		return "", err
	}
	return string(val), nil
}

// PushToken returns the stored push registration token, empty when unset.
func (s *Store) PushToken() (string, error) {
	val, err := s.redis.Get(keyPushToken)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return "", nil
		}
		return "", err
	}
	return string(val), nil
}

// SetPushToken records a rotated push token and re-registers so the
// backend learns the new address immediately.
func (s *Store) SetPushToken(ctx context.Context, token string) error {
	if err := s.redis.Set(keyPushToken, []byte(token), 0); err != nil {
		return err
	}
	logger.Info("push token updated")
	// Marking the current token stale forces a real register call so the
	// backend learns the new push address.
	current, _ := s.Token()
	_, err := s.Refresh(ctx, current)
	return err
}

// Refresh registers with the backend and stores the fresh bearer token.
// stale is the token the caller found rejected; when another goroutine
// already refreshed past it, the newer token is returned without another
// register call.
func (s *Store) Refresh(ctx context.Context, stale string) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if current, err := s.Token(); err == nil && current != "" && current != stale {
		return current, nil
	}

	pushToken, err := s.PushToken()
	if err != nil {
		return "", err
	}

	resp, err := s.registrar.Register(ctx, &backend.RegisterRequest{
		Phone:             s.phone,
		RegistrationToken: pushToken,
	})
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(keyBearerToken, []byte(resp.Token), 0); err != nil {
		return "", err
	}
	logger.Info("bearer token refreshed")
	return resp.Token, nil
}
