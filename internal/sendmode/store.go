package sendmode

import (
	"context"
	"sync"

	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
)

// Repository is the durable backing table for per-thread send modes.
type Repository interface {
	GetAll(ctx context.Context) ([]*model.ThreadSendMode, error)
	Upsert(ctx context.Context, threadID int64, mode model.SendMode) error
	Delete(ctx context.Context, threadID int64) error
}

// Store is the per-conversation send-mode policy. The in-memory cache is
// the source of truth for reads; every write updates the cache
// synchronously and schedules the durable write on a single background
// goroutine, so a concurrent read observes the new value immediately.
// A crash before the durable write lands reverts to the last durable
// value, an accepted narrow inconsistency window.
type Store struct {
	mu    sync.RWMutex
	cache map[int64]model.SendMode
	repo  Repository

	writes chan func()
	done   chan struct{}
}

// NewStore constructs the policy store and reloads the cache from the
// durable table. Construct once per process.
func NewStore(ctx context.Context, repo Repository) (*Store, error) {
	s := &Store{
		cache:  make(map[int64]model.SendMode),
		repo:   repo,
		writes: make(chan func(), 64),
		done:   make(chan struct{}),
	}

	rows, err := repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		s.cache[row.ThreadID] = row.Mode
	}

	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for op := range s.writes {
		op()
	}
}

// Get returns the thread's mode, defaulting to SEND when never set.
func (s *Store) Get(threadID int64) model.SendMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode, ok := s.cache[threadID]; ok {
		return mode
	}
	return model.SendModeSend
}

func (s *Store) Set(threadID int64, mode model.SendMode) {
	s.mu.Lock()
	s.cache[threadID] = mode
	s.mu.Unlock()

	s.enqueue(func() {
		if err := s.repo.Upsert(context.Background(), threadID, mode); err != nil {
			logger.Error("failed to persist send mode", "thread_id", threadID, "mode", mode, "error", err)
		}
	})
}

// Toggle flips the thread's mode and returns the new value. Read-modify-
// write runs under one critical section so concurrent toggles serialize.
func (s *Store) Toggle(threadID int64) model.SendMode {
	s.mu.Lock()
	current, ok := s.cache[threadID]
	if !ok {
		current = model.SendModeSend
	}
	next := current.Toggled()
	s.cache[threadID] = next
	s.mu.Unlock()

	s.enqueue(func() {
		if err := s.repo.Upsert(context.Background(), threadID, next); err != nil {
			logger.Error("failed to persist send mode", "thread_id", threadID, "mode", next, "error", err)
		}
	})
	return next
}

// Reset drops the thread back to the default policy.
func (s *Store) Reset(threadID int64) {
	s.mu.Lock()
	delete(s.cache, threadID)
	s.mu.Unlock()

	s.enqueue(func() {
		if err := s.repo.Delete(context.Background(), threadID); err != nil {
			logger.Error("failed to delete send mode", "thread_id", threadID, "error", err)
		}
	})
}

func (s *Store) enqueue(op func()) {
	select {
	case s.writes <- op:
	default:
		// Queue full: run inline rather than drop the durable write.
		op()
	}
}

// Flush blocks until every scheduled durable write has run. Test hook and
// shutdown aid.
func (s *Store) Flush() {
	synced := make(chan struct{})
	s.writes <- func() { close(synced) }
	<-synced
}

// Close stops the write loop after draining pending writes.
func (s *Store) Close() {
	close(s.writes)
	<-s.done
}
