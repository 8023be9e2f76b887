package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luzzy/message-sync/internal/backend"
	"github.com/luzzy/message-sync/internal/config"
	"github.com/luzzy/message-sync/internal/creds"
	"github.com/luzzy/message-sync/internal/dedup"
	"github.com/luzzy/message-sync/internal/delivery"
	"github.com/luzzy/message-sync/internal/draft"
	"github.com/luzzy/message-sync/internal/handlers"
	"github.com/luzzy/message-sync/internal/notify"
	"github.com/luzzy/message-sync/internal/push"
	"github.com/luzzy/message-sync/internal/repository"
	"github.com/luzzy/message-sync/internal/sendmode"
	"github.com/luzzy/message-sync/internal/services"
	"github.com/luzzy/message-sync/internal/uploader"
	"github.com/luzzy/message-sync/internal/window"
	xhttp "github.com/luzzy/message-sync/pkg/http"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/pg"
	"github.com/luzzy/message-sync/pkg/prom"
	"github.com/luzzy/message-sync/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	storeConf := storeConfig()
	if err = pg.Migrate(storeConf, migrationsDir()); err != nil {
		logger.Error("failed to migrate store", "error", err)
		return
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(storeConf, storeConf, pgDebug)
	if err != nil {
		logger.Error("failed opening store", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	sendModeRepo := repository.NewSendModeRepository(db)
	simPrefRepo := repository.NewSimPrefRepository(db)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	modeStore, err := sendmode.NewStore(rootCtx, sendModeRepo)
	if err != nil {
		logger.Error("failed loading send modes", "error", err)
		return
	}
	defer modeStore.Close()

	center := notify.NewCenter(100)

	backendClient, err := backend.NewClient(&backend.Config{
		BaseURL: config.Get().BackendBaseURL,
		Timeout: config.Get().BackendTimeout,
	})
	if err != nil {
		logger.Error("failed to create backend client", "error", err)
		return
	}
	credStore := creds.NewStore(redisAdap, backendClient, config.Get().DevicePhone)

	up := uploader.New(messageRepo, backendClient, credStore, center, uploader.Options{
		DevicePhone:     config.Get().DevicePhone,
		MaxAttempts:     config.Get().UploadMaxAttempts,
		BackoffBase:     config.Get().UploadBackoffBase,
		BackoffCeiling:  config.Get().UploadBackoffCeiling,
		HistoryLookback: config.Get().UploadHistoryLookback,
		Workers:         config.Get().UploadWorkers,
	})
	go func() {
		if err := up.Start(); err != nil {
			logger.Error("failed to start uploader", "error", err)
		}
	}()

	// Inbound half of the transport boundary, built before the transport
	// so the echo hook never races its goroutines. The loopback echo
	// drives it in dev; a real telephony integration replaces that hook.
	receiver := delivery.NewReceiver(messageRepo, conversationRepo, up)

	loopCfg := delivery.LoopbackConfig{}
	if config.Get().LoopbackEcho {
		loopCfg.OnReceive = func(from, body string) {
			if _, err := receiver.Receive(rootCtx, from, body, 1, time.Now()); err != nil {
				logger.Warn("loopback echo rejected", "from", from, "error", err)
			}
		}
	}
	transport := delivery.NewLoopback(loopCfg)
	selector := delivery.NewSimSelector(simPrefRepo, messageRepo, transport)
	engine := delivery.NewEngine(messageRepo, conversationRepo, transport, selector, center, delivery.Options{
		DeliveryReports:    config.Get().DeliveryReports,
		SendLongAsMMS:      config.Get().SendLongAsMMS,
		SendLongAsMMSAfter: config.Get().SendLongAsMMSAfter,
		SendGroupAsMMS:     config.Get().SendGroupAsMMS,
	})
	go engine.RunScheduledSweep(rootCtx, config.Get().ScheduledSweepEvery)

	draftSaver := draft.NewSaver(conversationRepo, center)

	filter := dedup.NewFilter(config.Get().DedupWindow, config.Get().DedupCapacity)
	pushSvc := push.NewService(redisAdap, 0, 0)
	pushSvc.RegisterProcessor(
		push.NewCommandProcessor(filter, modeStore, engine, draftSaver).
			WithRedeliveryGuard(push.NewRedeliveryGuard(redisAdap)),
	)
	go func() {
		if err := pushSvc.Start(); err != nil {
			logger.Error("failed to start push consumer", "error", err)
		}
	}()

	// local control API
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	threadService := services.NewThreadService(
		engine, draftSaver, modeStore, conversationRepo, center, messageRepo,
		window.Options{
			Cap:            config.Get().WindowCap,
			SeparatorGap:   config.Get().WindowSeparatorGap,
			JumpMaxLoops:   config.Get().WindowJumpMaxLoops,
			OlderPageLimit: config.Get().WindowOlderPageLimit,
		},
	)
	healthService := services.NewHealthService(db, redisAdap)

	threadHandler := handlers.NewThreadHandler(threadService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterThreadRoutes(g, threadHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	logger.Info("syncd is up", "version", version, "commit", commit, "built", date, "addr", config.Get().HttpListenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		s.Shutdown()
		pushSvc.Stop()
		up.Close()
		engine.Wait()
		cancel()
	}
}

func storeConfig() pg.Config {
	c := config.Get()
	if c.StoreDriver == pg.DriverPostgres {
		return pg.Config{
			Driver:   pg.DriverPostgres,
			User:     c.PostgresUser,
			Host:     c.PostgresHost,
			Port:     c.PostgresPort,
			Password: c.PostgresPassword,
			Database: c.PostgresDatabase,
		}
	}
	return pg.Config{Driver: pg.DriverSqlite, Path: c.StoreSqlitePath}
}

func migrationsDir() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--migrations=") {
			s := strings.Split(v, "=")
			return s[1]
		}
	}
	return "./migrations"
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
