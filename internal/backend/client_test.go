package backend

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type testBackend struct {
	addr        string
	token       string
	rejectAuth  atomic.Bool
	failUploads atomic.Bool
	uploads     atomic.Int64
	lastUpload  atomic.Pointer[UploadRequest]
}

func startTestBackend(t *testing.T) *testBackend {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tb := &testBackend{addr: ln.Addr().String(), token: "test-token"}

	server := &fasthttp.Server{Handler: tb.handle}
	go server.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { server.Shutdown() }) //nolint:errcheck

	return tb
}

func (tb *testBackend) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/register":
		var req RegisterRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Phone == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		body, _ := json.Marshal(RegisterResponse{Token: tb.token})
		ctx.SetContentType("application/json")
		ctx.SetBody(body)

	case "/messages":
		if tb.rejectAuth.Load() || string(ctx.Request.Header.Peek("Authorization")) != "Bearer "+tb.token {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		if tb.failUploads.Load() {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		var req UploadRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		tb.uploads.Add(1)
		tb.lastUpload.Store(&req)
		ctx.SetStatusCode(fasthttp.StatusOK)

	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func newTestClient(t *testing.T, tb *testBackend) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		BaseURL: "http://" + tb.addr,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestClient_Register(t *testing.T) {
	tb := startTestBackend(t)
	client := newTestClient(t, tb)

	resp, err := client.Register(context.Background(), &RegisterRequest{
		Phone:             "+15550001",
		RegistrationToken: "push-token",
	})
	require.NoError(t, err)
	assert.Equal(t, "test-token", resp.Token)
}

func TestClient_Upload(t *testing.T) {
	tb := startTestBackend(t)
	client := newTestClient(t, tb)

	req := &UploadRequest{
		From: "+15550000",
		To:   "+15550001",
		Messages: []UploadMessage{
			{From: "+15550000", Message: "hi", Timestamp: 1700000000000},
			{From: "+15550001", Message: "hello", Timestamp: 1700000001000},
		},
	}
	require.NoError(t, client.Upload(context.Background(), "test-token", req))

	require.Equal(t, int64(1), tb.uploads.Load())
	got := tb.lastUpload.Load()
	require.NotNil(t, got)
	assert.Equal(t, req.To, got.To)
	assert.Len(t, got.Messages, 2)
}

func TestClient_UploadEmptyBatchIsNoop(t *testing.T) {
	tb := startTestBackend(t)
	client := newTestClient(t, tb)

	require.NoError(t, client.Upload(context.Background(), "test-token", &UploadRequest{To: "+15550001"}))
	assert.Zero(t, tb.uploads.Load())
}

func TestClient_UploadUnauthorized(t *testing.T) {
	tb := startTestBackend(t)
	client := newTestClient(t, tb)

	err := client.Upload(context.Background(), "stale-token", &UploadRequest{
		To:       "+15550001",
		Messages: []UploadMessage{{From: "+15550001", Message: "hi", Timestamp: 1}},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_UploadServerError(t *testing.T) {
	tb := startTestBackend(t)
	tb.failUploads.Store(true)
	client := newTestClient(t, tb)

	err := client.Upload(context.Background(), "test-token", &UploadRequest{
		To:       "+15550001",
		Messages: []UploadMessage{{From: "+15550001", Message: "hi", Timestamp: 1}},
	})
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{})
	assert.Error(t, err)
}
