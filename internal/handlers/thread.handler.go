package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/internal/notify"
	xhttp "github.com/luzzy/message-sync/pkg/http"
)

type ThreadService interface {
	Send(ctx context.Context, req model.SendRequest) (*model.Message, error)
	Threads(ctx context.Context, includeArchived bool) ([]*model.Conversation, error)
	Thread(ctx context.Context, threadID int64) (*model.Conversation, error)
	SetArchived(ctx context.Context, threadID int64, archived bool) error
	ThreadItems(ctx context.Context, threadID int64) ([]model.ThreadItem, error)
	LoadOlder(ctx context.Context, threadID int64, cutoff int64) (fetched, exhausted bool, err error)
	JumpTo(ctx context.Context, threadID, messageID int64) (int, error)
	Mode(threadID int64) model.SendMode
	SetMode(threadID int64, mode model.SendMode) error
	ToggleMode(threadID int64) model.SendMode
	SaveDraft(ctx context.Context, addresses []string, body string) (*model.Conversation, error)
	ClearDraft(ctx context.Context, threadID int64) error
	Notifications(limit int) []notify.Event
}

type ThreadHandler struct {
	svc ThreadService
}

func NewThreadHandler(svc ThreadService) *ThreadHandler {
	return &ThreadHandler{svc: svc}
}

func RegisterThreadRoutes(e *router.Group, h *ThreadHandler) {
	e.POST("/send", h.Send)
	e.GET("/threads", h.ListThreads)
	e.GET("/threads/{id}", h.GetThread)
	e.PUT("/threads/{id}/archived", h.SetArchived)
	e.GET("/threads/{id}/items", h.ListItems)
	e.POST("/threads/{id}/older", h.LoadOlder)
	e.GET("/threads/{id}/jump/{message_id}", h.JumpTo)
	e.GET("/threads/{id}/send-mode", h.GetMode)
	e.PUT("/threads/{id}/send-mode", h.SetMode)
	e.POST("/threads/{id}/send-mode/toggle", h.ToggleMode)
	e.POST("/drafts", h.SaveDraft)
	e.DELETE("/threads/{id}/draft", h.ClearDraft)
	e.GET("/notifications", h.ListNotifications)
}

type sendRequest struct {
	Addresses      []string `json:"addresses"`
	Body           string   `json:"body"`
	SubscriptionID int      `json:"subscription_id,omitempty"`
	ScheduledAt    int64    `json:"scheduled_at,omitempty"`
}

type draftRequest struct {
	Addresses []string `json:"addresses"`
	Body      string   `json:"body"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	ThreadID int64  `json:"thread_id"`
	Mode     string `json:"mode"`
}

type olderRequest struct {
	Cutoff int64 `json:"cutoff"`
}

type olderResponse struct {
	Fetched   bool `json:"fetched"`
	Exhausted bool `json:"exhausted"`
}

type itemsResponse struct {
	Items []model.ThreadItem `json:"items"`
}

type threadsResponse struct {
	Items []*model.Conversation `json:"items"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *ThreadHandler) Send(ctx *xhttp.RequestCtx) {
	var req sendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	msg, err := h.svc.Send(ctx, model.SendRequest{
		Addresses:      req.Addresses,
		Body:           req.Body,
		SubscriptionID: req.SubscriptionID,
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, msg)
}

func (h *ThreadHandler) ListThreads(ctx *xhttp.RequestCtx) {
	includeArchived := strings.EqualFold(query(ctx, "archived"), "true")
	items, err := h.svc.Threads(ctx, includeArchived)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, threadsResponse{Items: items})
}

func (h *ThreadHandler) GetThread(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	conv, err := h.svc.Thread(ctx, id)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}
	writeJSON(ctx, 200, conv)
}

func (h *ThreadHandler) SetArchived(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	var req struct {
		Archived bool `json:"archived"`
	}
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := h.svc.SetArchived(ctx, id, req.Archived); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]bool{"archived": req.Archived})
}

func (h *ThreadHandler) ListItems(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	items, err := h.svc.ThreadItems(ctx, id)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}
	writeJSON(ctx, 200, itemsResponse{Items: items})
}

func (h *ThreadHandler) LoadOlder(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	var req olderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	fetched, exhausted, err := h.svc.LoadOlder(ctx, id, req.Cutoff)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, olderResponse{Fetched: fetched, Exhausted: exhausted})
}

func (h *ThreadHandler) JumpTo(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	messageID, err := pathInt64(ctx, "message_id")
	if err != nil {
		writeError(ctx, 400, "invalid message id")
		return
	}
	idx, err := h.svc.JumpTo(ctx, id, messageID)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]int{"index": idx})
}

func (h *ThreadHandler) GetMode(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	writeJSON(ctx, 200, modeResponse{ThreadID: id, Mode: string(h.svc.Mode(id))})
}

func (h *ThreadHandler) SetMode(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	var req modeRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	mode := model.SendMode(strings.ToUpper(strings.TrimSpace(req.Mode)))
	if err := h.svc.SetMode(id, mode); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, modeResponse{ThreadID: id, Mode: string(mode)})
}

func (h *ThreadHandler) ToggleMode(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	mode := h.svc.ToggleMode(id)
	writeJSON(ctx, 200, modeResponse{ThreadID: id, Mode: string(mode)})
}

func (h *ThreadHandler) SaveDraft(ctx *xhttp.RequestCtx) {
	var req draftRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	conv, err := h.svc.SaveDraft(ctx, req.Addresses, req.Body)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, conv)
}

func (h *ThreadHandler) ClearDraft(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid thread id")
		return
	}
	if err := h.svc.ClearDraft(ctx, id); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	ctx.Response.SetStatusCode(204)
}

func (h *ThreadHandler) ListNotifications(ctx *xhttp.RequestCtx) {
	limit := 0
	if v := query(ctx, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(ctx, 200, map[string][]notify.Event{"items": h.svc.Notifications(limit)})
}

/* --------------------------------- Helpers ----------------------------------- */

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}
