package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/gate"
	"github.com/cortexmem/cortex/internal/memory"
)

// MemoryHandler exposes the fact store. Tenancy comes from the X-Cortex-Tenant
// header; multi-tenant isolation is enforced at the repository.
type MemoryHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewMemoryHandler creates a MemoryHandler.
func NewMemoryHandler(svc *memory.Service, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, logger: logger}
}

// Register mounts the fact routes. auth guards purge, the only destructive
// operation.
func (h *MemoryHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	m := rg.Group("/memory")
	{
		m.POST("/facts", h.Store)
		m.GET("/facts", h.ListByTag)
		m.GET("/facts/:id", h.Get)
		m.POST("/facts/:id/deprecate", h.Deprecate)
		m.POST("/facts/:id/purge-request", auth, h.RequestPurge)
		m.DELETE("/facts/:id", auth, h.Purge)
	}
}

func tenantOf(c *gin.Context) string {
	t := c.GetHeader("X-Cortex-Tenant")
	if t == "" {
		t = "default"
	}
	return t
}

func factID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fact id"})
		return uuid.Nil, false
	}
	return id, true
}

type storeFactRequest struct {
	ActorID string   `json:"actor_id" binding:"required"`
	Content string   `json:"content" binding:"required"` // base64
	Tags    []string `json:"tags"`
}

// Store persists a new fact.
func (h *MemoryHandler) Store(c *gin.Context) {
	var req storeFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id and content are required"})
		return
	}
	plaintext, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64"})
		return
	}

	f, err := h.svc.Store(c.Request.Context(), tenantOf(c), req.ActorID, plaintext, req.Tags)
	if err != nil {
		h.logger.Error("store fact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Get returns a fact with its opened content.
func (h *MemoryHandler) Get(c *gin.Context) {
	id, ok := factID(c)
	if !ok {
		return
	}

	f, plaintext, err := h.svc.Get(c.Request.Context(), tenantOf(c), id)
	if errors.Is(err, memory.ErrFactNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "fact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fact": f, "content": base64.StdEncoding.EncodeToString(plaintext)})
}

// ListByTag returns the tenant's facts carrying ?tag=.
func (h *MemoryHandler) ListByTag(c *gin.Context) {
	tag := c.Query("tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag query parameter is required"})
		return
	}
	facts, err := h.svc.ListByTag(c.Request.Context(), tenantOf(c), tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if facts == nil {
		facts = []*memory.Fact{}
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}

type deprecateRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// Deprecate marks a fact deprecated.
func (h *MemoryHandler) Deprecate(c *gin.Context) {
	id, ok := factID(c)
	if !ok {
		return
	}
	var req deprecateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}

	err := h.svc.Deprecate(c.Request.Context(), tenantOf(c), req.ActorID, id)
	if errors.Is(err, memory.ErrFactNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "fact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": memory.StatusDeprecated})
}

// RequestPurge registers the gated purge action for a fact and returns it
// with its challenge.
func (h *MemoryHandler) RequestPurge(c *gin.Context) {
	id, ok := factID(c)
	if !ok {
		return
	}

	a, err := h.svc.RequestPurge(c.Request.Context(), tenantOf(c), id)
	if errors.Is(err, memory.ErrFactNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "fact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, viewAction(a, true))
}

// Purge deletes a fact through the gate; ?action= must identify an approved
// purge action.
func (h *MemoryHandler) Purge(c *gin.Context) {
	id, ok := factID(c)
	if !ok {
		return
	}
	actionID := c.Query("action")
	if actionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action query parameter is required"})
		return
	}

	err := h.svc.Purge(c.Request.Context(), actionID, tenantOf(c), operatorID(c), id)
	switch {
	case errors.Is(err, gate.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
	case errors.Is(err, gate.ErrNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": "action not approved"})
	case errors.Is(err, gate.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "approval expired"})
	case errors.Is(err, memory.ErrFactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "fact not found"})
	case err != nil:
		h.logger.Error("purge fact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "purged"})
	}
}
