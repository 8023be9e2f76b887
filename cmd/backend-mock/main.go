package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RegisterRequest is a device registration: its phone number plus the
// current push registration token.
type RegisterRequest struct {
	Phone             string `json:"phone" binding:"required"`
	RegistrationToken string `json:"registrationToken"`
}

// RegisterResponse carries the bearer token for subsequent uploads.
type RegisterResponse struct {
	Token string `json:"token"`
}

// UploadMessage is one mirrored message.
type UploadMessage struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// UploadRequest is one conversation batch.
type UploadRequest struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Messages []UploadMessage `json:"messages"`
}

// MockBackend simulates the sync backend: it issues bearer tokens and
// accepts conversation batches, with configurable failure injection so the
// uploader's retry and refresh paths can be exercised end to end.
type MockBackend struct {
	mu          sync.Mutex
	tokens      map[string]string // bearer token -> phone
	pushTokens  map[string]string // phone -> registration token
	failureRate float64
	expireAuth  bool
	batches     int
	messages    int
	rng         *rand.Rand
}

func NewMockBackend(failureRate float64) *MockBackend {
	return &MockBackend{
		tokens:      make(map[string]string),
		pushTokens:  make(map[string]string),
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *MockBackend) register(req *RegisterRequest) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := uuid.New().String()
	b.tokens[token] = req.Phone
	b.pushTokens[req.Phone] = req.RegistrationToken
	return token
}

func (b *MockBackend) authorize(bearer string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.expireAuth {
		// One-shot: the next upload sees a stale token, forcing a refresh.
		b.expireAuth = false
		delete(b.tokens, bearer)
		return "", false
	}
	phone, ok := b.tokens[bearer]
	return phone, ok
}

func (b *MockBackend) shouldFail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.failureRate
}

func (b *MockBackend) record(req *UploadRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++
	b.messages += len(req.Messages)
}

// Handler holds the mock backend and its routes.
type Handler struct {
	backend *MockBackend
}

func NewHandler(backend *MockBackend) *Handler {
	return &Handler{backend: backend}
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	token := h.backend.register(&req)

	log.Info().
		Str("phone", req.Phone).
		Bool("has_push_token", req.RegistrationToken != "").
		Msg("Device registered")

	c.JSON(http.StatusOK, RegisterResponse{Token: token})
}

func (h *Handler) Upload(c *gin.Context) {
	bearer := bearerToken(c)
	phone, ok := h.backend.authorize(bearer)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if h.backend.shouldFail() {
		log.Warn().
			Str("phone", phone).
			Str("to", req.To).
			Msg("Injected upload failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
		return
	}

	h.backend.record(&req)

	log.Info().
		Str("phone", phone).
		Str("to", req.To).
		Int("messages", len(req.Messages)).
		Msg("Batch accepted")

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Messages)})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.backend.mu.Lock()
	batches, messages := h.backend.batches, h.backend.messages
	h.backend.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"batches":  batches,
		"messages": messages,
	})
}

// UpdateConfig changes failure injection at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		FailureRate *float64 `json:"failure_rate"`
		ExpireAuth  *bool    `json:"expire_auth"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.backend.mu.Lock()
	if config.FailureRate != nil && *config.FailureRate >= 0 && *config.FailureRate <= 1.0 {
		h.backend.failureRate = *config.FailureRate
		log.Info().Float64("rate", *config.FailureRate).Msg("Updated failure rate")
	}
	if config.ExpireAuth != nil {
		h.backend.expireAuth = *config.ExpireAuth
	}
	h.backend.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "Configuration updated"})
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// SetupRouter configures all routes.
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.POST("/register", handler.Register)
	router.POST("/messages", handler.Upload)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8090")
	failureRate := getEnvFloat("FAILURE_RATE", 0)

	log.Info().
		Str("port", port).
		Float64("failure_rate", failureRate).
		Msg("Starting Mock Sync Backend")

	backend := NewMockBackend(failureRate)
	handler := NewHandler(backend)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}
