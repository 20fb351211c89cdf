// Package httpapi exposes the operator surface: REST endpoints for invoking
// commands and inspecting state, plus an MCP tool endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nodegate/nodegate/internal/invoke"
	"github.com/nodegate/nodegate/internal/persistence"
	"github.com/nodegate/nodegate/internal/registry"
)

const (
	maxPageSize        = 100
	minInvokeTimeoutMS = 1
	maxInvokeTimeoutMS = 600000
)

// Dispatcher is the invoke surface the handlers depend on, implemented by
// invoke.Registry.
type Dispatcher interface {
	Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error)
	SendEvent(nodeID string, event string, payload any) bool
	Status() invoke.Status
}

// InvocationLister serves the persisted audit trail, implemented by
// persistence.InvocationLog. A nil lister disables the endpoint.
type InvocationLister interface {
	ListRecent(ctx context.Context, nodeID string, limit int) ([]persistence.InvocationRow, error)
}

type Handler struct {
	store      *registry.Store
	dispatcher Dispatcher
	history    InvocationLister
	logger     zerolog.Logger
}

func NewHandler(store *registry.Store, dispatcher Dispatcher, history InvocationLister, logger zerolog.Logger) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		history:    history,
		logger:     logger.With().Str("component", "httpapi").Logger(),
	}
}

// NewRouter assembles the gin engine. The node websocket path is mounted
// without operator auth: nodes authenticate with their signed hello.
func NewRouter(h *Handler, operatorAuth gin.HandlerFunc, mcpHandler http.Handler, nodeWS http.HandlerFunc, nodeWSPath string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(nodeWSPath, gin.WrapF(nodeWS))

	api := router.Group("/api/v1", operatorAuth)
	api.POST("/invoke", h.Invoke)
	api.POST("/nodes/:node_id/events", h.SendEvent)
	api.GET("/nodes", h.ListNodes)
	api.GET("/nodes/stats", h.NodeStats)
	api.GET("/status", h.GatewayStatus)
	api.GET("/invocations", h.ListInvocations)

	if mcpHandler != nil {
		router.Any("/mcp", operatorAuth, gin.WrapH(mcpHandler))
	}
	return router
}

type invokeHTTPRequest struct {
	NodeID         string          `json:"node_id"`
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params,omitempty"`
	TimeoutMS      *int64          `json:"timeout_ms,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) Invoke(c *gin.Context) {
	var req invokeHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.NodeID) == "" || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id and command are required"})
		return
	}

	var timeout time.Duration
	if req.TimeoutMS != nil {
		if *req.TimeoutMS < minInvokeTimeoutMS || *req.TimeoutMS > maxInvokeTimeoutMS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_ms must be between 1 and 600000"})
			return
		}
		timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	var params any
	if len(req.Params) > 0 {
		params = json.RawMessage(req.Params)
	}

	res, err := h.dispatcher.Invoke(c.Request.Context(), invoke.Request{
		NodeID:         req.NodeID,
		Command:        req.Command,
		Params:         params,
		Timeout:        timeout,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, invoke.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("node_id", req.NodeID).Msg("invoke failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invoke failed"})
		return
	}

	c.JSON(invokeStatusCode(res), res)
}

// invokeStatusCode maps a terminal result onto an HTTP status so operators
// and scripts can branch without parsing the body.
func invokeStatusCode(res invoke.Result) int {
	if res.OK || res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Code {
	case invoke.CodeNotConnected:
		return http.StatusNotFound
	case invoke.CodeOverloaded:
		return http.StatusTooManyRequests
	case invoke.CodeTimeout:
		return http.StatusGatewayTimeout
	case invoke.CodeUnavailable, invoke.CodeNodeDisconnected:
		return http.StatusBadGateway
	default:
		// Node-reported application failures still complete the invoke.
		return http.StatusOK
	}
}

type sendEventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) SendEvent(c *gin.Context) {
	nodeID := c.Param("node_id")
	var req sendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Event) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event is required"})
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = json.RawMessage(req.Payload)
	}
	if !h.dispatcher.SendEvent(nodeID, req.Event, payload) {
		c.JSON(http.StatusNotFound, gin.H{"error": "node is not connected or unreachable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": true})
}

type listNodesResponse struct {
	Items    []registry.NodeView `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

func (h *Handler) ListNodes(c *gin.Context) {
	page, ok := parsePositiveIntQuery(c, "page", 1)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	pageSize, ok := parsePositiveIntQuery(c, "page_size", 20)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must be a positive integer"})
		return
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, total := h.store.List(page, pageSize)
	c.JSON(http.StatusOK, listNodesResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *Handler) NodeStats(c *gin.Context) {
	status := h.dispatcher.Status()
	c.JSON(http.StatusOK, gin.H{
		"connected":        status.Nodes,
		"pending_total":    status.PendingTotal,
		"pending_per_node": status.PendingPerNode,
	})
}

func (h *Handler) GatewayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

func (h *Handler) ListInvocations(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invocation history is not enabled"})
		return
	}
	limit, ok := parsePositiveIntQuery(c, "limit", 50)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	rows, err := h.history.ListRecent(c.Request.Context(), c.Query("node_id"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list invocations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invocations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultValue int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
