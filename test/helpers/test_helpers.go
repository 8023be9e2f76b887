package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/repository"
	"github.com/luzzy/message-sync/pkg/pg"
	"github.com/luzzy/message-sync/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.MessageEntity{},
		&repository.ConversationEntity{},
		&repository.SendModeEntity{},
		&repository.SimPrefEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T, connName string) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestConversation(t *testing.T, db *pg.DB, addresses ...string) *model.Conversation {
	ctx := context.Background()
	conv, err := repository.NewConversationRepository(db).Ensure(ctx, addresses)
	require.NoError(t, err)
	return conv
}

func CreateTestMessage(t *testing.T, db *pg.DB, threadID int64, address, body string, direction model.Direction, at time.Time) *model.Message {
	ctx := context.Background()
	msg, err := repository.NewMessageRepository(db).Create(ctx, &model.Message{
		ThreadID:  threadID,
		Address:   address,
		Direction: direction,
		Body:      body,
		Date:      at.Unix(),
		DateMs:    at.UnixMilli(),
		Status:    model.MessageStatusDelivered,
	})
	require.NoError(t, err)
	return msg
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
