package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/luzzy/message-sync/internal/config"
	"github.com/luzzy/message-sync/internal/dedup"
	"github.com/luzzy/message-sync/internal/delivery"
	"github.com/luzzy/message-sync/internal/draft"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/notify"
	"github.com/luzzy/message-sync/internal/push"
	"github.com/luzzy/message-sync/internal/queue"
	"github.com/luzzy/message-sync/internal/repository"
	"github.com/luzzy/message-sync/internal/sendmode"
	"github.com/luzzy/message-sync/test/fixtures"
	"github.com/luzzy/message-sync/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushFixture struct {
	messages      *repository.MessageRepository
	conversations *repository.ConversationRepository
	modes         *sendmode.Store
	producer      *queue.Queue
	service       *push.Service
}

func setupPushFlow(t *testing.T, connName string) *pushFixture {
	t.Helper()

	config.Set(&config.Config{
		AppEnv:                     "test",
		PushQueueName:              "push:commands:" + connName,
		PushQueueConsumerGroup:     "syncd",
		PushQueueConsumerName:      "syncd-consumer",
		PushQueueMaxRetries:        3,
		PushQueueVisibilityTimeout: time.Second,
		PushQueuePollInterval:      20 * time.Millisecond,
		PushQueueBatchSize:         10,
		PushQueueMaxLen:            1000,
	})

	db := helpers.SetupTestDB(t)
	_, adapter := helpers.SetupTestRedis(t, connName)

	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	sendModeRepo := repository.NewSendModeRepository(db)
	simPrefRepo := repository.NewSimPrefRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	modes, err := sendmode.NewStore(ctx, sendModeRepo)
	require.NoError(t, err)
	t.Cleanup(modes.Close)

	center := notify.NewCenter(100)
	transport := delivery.NewLoopback(delivery.LoopbackConfig{})
	selector := delivery.NewSimSelector(simPrefRepo, messageRepo, transport)
	engine := delivery.NewEngine(messageRepo, conversationRepo, transport, selector, center, delivery.Options{
		DeliveryReports: true,
	})
	saver := draft.NewSaver(conversationRepo, center)
	filter := dedup.NewFilter(time.Minute, 100)

	service := push.NewService(adapter, 1, 2)
	service.RegisterProcessor(push.NewCommandProcessor(filter, modes, engine, saver))
	go func() {
		if err := service.Start(); err != nil {
			t.Errorf("push service: %v", err)
		}
	}()
	t.Cleanup(service.Stop)

	producer, err := queue.NewQueue(adapter, queue.QueueConfig{
		Name:          config.Get().PushQueueName,
		ConsumerGroup: config.Get().PushQueueConsumerGroup,
		ConsumerName:  "producer",
		MaxLen:        1000,
	})
	require.NoError(t, err)

	return &pushFixture{
		messages:      messageRepo,
		conversations: conversationRepo,
		modes:         modes,
		producer:      producer,
		service:       service,
	}
}

func (f *pushFixture) publish(t *testing.T, cmd push.Command) {
	t.Helper()
	_, err := f.producer.PublishJSON(context.Background(), cmd, nil)
	require.NoError(t, err)
}

func (f *pushFixture) threadMessages(t *testing.T, address string) []*model.Message {
	t.Helper()
	threadID := model.DeriveThreadID([]string{address})
	msgs, err := f.messages.List(context.Background(), fixtures.MessageFilterByThread(threadID))
	require.NoError(t, err)
	return msgs
}

func TestPushCommand_SendModeDeliversMessage(t *testing.T) {
	f := setupPushFlow(t, "e2e-send")

	f.publish(t, push.Command{To: fixtures.ValidAddresses[0], Message: "hello from the backend"})

	require.Eventually(t, func() bool {
		msgs := f.threadMessages(t, fixtures.ValidAddresses[0])
		return len(msgs) == 1 && msgs[0].Status == model.MessageStatusDelivered
	}, 5*time.Second, 25*time.Millisecond, "command should land as a delivered outbound message")

	msgs := f.threadMessages(t, fixtures.ValidAddresses[0])
	assert.Equal(t, model.DirectionOutbound, msgs[0].Direction)
	assert.Equal(t, "hello from the backend", msgs[0].Body)
}

func TestPushCommand_DraftModeSavesDraft(t *testing.T) {
	f := setupPushFlow(t, "e2e-draft")

	threadID := model.DeriveThreadID([]string{fixtures.ValidAddresses[0]})
	f.modes.Set(threadID, model.SendModeDraft)

	f.publish(t, push.Command{To: fixtures.ValidAddresses[0], Message: "park this one"})

	require.Eventually(t, func() bool {
		conv, err := f.conversations.Get(context.Background(), threadID)
		return err == nil && conv.Draft == "park this one"
	}, 5*time.Second, 25*time.Millisecond, "command should be parked as a draft")

	assert.Empty(t, f.threadMessages(t, fixtures.ValidAddresses[0]), "draft mode must not send")
}

func TestPushCommand_DuplicateSuppressed(t *testing.T) {
	f := setupPushFlow(t, "e2e-dup")

	cmd := push.Command{To: fixtures.ValidAddresses[0], Message: "once only"}
	f.publish(t, cmd)
	f.publish(t, cmd)

	require.Eventually(t, func() bool {
		return len(f.threadMessages(t, fixtures.ValidAddresses[0])) >= 1
	}, 5*time.Second, 25*time.Millisecond)

	// Give the second command time to be consumed, then check it was dropped.
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, f.threadMessages(t, fixtures.ValidAddresses[0]), 1, "identical command within the window must not send twice")
}

func TestPushCommand_DistinctBodiesBothDeliver(t *testing.T) {
	f := setupPushFlow(t, "e2e-distinct")

	f.publish(t, push.Command{To: fixtures.ValidAddresses[0], Message: "first"})
	f.publish(t, push.Command{To: fixtures.ValidAddresses[0], Message: "second"})

	require.Eventually(t, func() bool {
		return len(f.threadMessages(t, fixtures.ValidAddresses[0])) == 2
	}, 5*time.Second, 25*time.Millisecond, "distinct bodies are not duplicates")
}
