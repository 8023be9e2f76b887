package push

import (
	"fmt"
	"time"

	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/redis"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyHandled = errors.New("command already handled")
	ErrHandlingLocked = errors.New("command is being handled elsewhere")
)

// RedeliveryGuard suppresses stream redeliveries across consumer restarts.
// The in-memory duplicate filter only covers commands the running process
// has seen; this covers the ack-loss case, where the broker hands the same
// stream entry out again after a crash.
type RedeliveryGuard struct {
	redis     redis.RedisAdapter
	lockTTL   time.Duration
	handleTTL time.Duration
}

func NewRedeliveryGuard(adapter redis.RedisAdapter) *RedeliveryGuard {
	return &RedeliveryGuard{
		redis:     adapter,
		lockTTL:   30 * time.Second,
		handleTTL: 24 * time.Hour,
	}
}

// Begin claims a stream entry for handling. ErrAlreadyHandled means the
// entry finished on a previous delivery and must be acked without effect;
// ErrHandlingLocked means another consumer holds it right now.
func (g *RedeliveryGuard) Begin(entryID string) error {
	handled, err := g.redis.Exist(g.handledKey(entryID))
	if err != nil {
		// Better to risk one duplicate than to stall the stream.
		logger.Warn("redelivery check failed", "entry_id", entryID, "error", err)
	} else if handled > 0 {
		return ErrAlreadyHandled
	}

	stamp := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	acquired, err := g.redis.SetNX(g.lockKey(entryID), stamp, g.lockTTL)
	if err != nil {
		return errors.Wrap(err, "acquire handling lock")
	}
	if !acquired {
		return ErrHandlingLocked
	}
	return nil
}

// Done marks the entry handled and drops the lock. Redeliveries of this
// entry are acked without reprocessing for the marker's lifetime.
func (g *RedeliveryGuard) Done(entryID string) {
	if err := g.redis.Set(g.handledKey(entryID), []byte("1"), g.handleTTL); err != nil {
		logger.Warn("failed to mark command handled", "entry_id", entryID, "error", err)
	}
	if err := g.redis.Del(g.lockKey(entryID)); err != nil {
		logger.Warn("failed to drop handling lock", "entry_id", entryID, "error", err)
	}
}

// Release drops the lock without the handled marker, so a failed command
// can be redelivered and retried.
func (g *RedeliveryGuard) Release(entryID string) {
	if err := g.redis.Del(g.lockKey(entryID)); err != nil {
		logger.Warn("failed to release handling lock", "entry_id", entryID, "error", err)
	}
}

func (g *RedeliveryGuard) lockKey(entryID string) string {
	return "push:handling:" + entryID
}

func (g *RedeliveryGuard) handledKey(entryID string) string {
	return "push:handled:" + entryID
}
