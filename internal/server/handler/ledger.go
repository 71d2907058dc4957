package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/ledger"
)

// LedgerHandler exposes the ledger's read-only audit surface and on-demand
// checkpointing.
type LedgerHandler struct {
	chain  ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(chain ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{chain: chain, logger: logger}
}

// Register mounts the ledger routes. auth guards checkpoint creation.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	l := rg.Group("/ledger")
	{
		l.GET("/verify", h.Verify)
		l.GET("/root", h.Root)
		l.GET("/transactions", h.Transactions)
		l.GET("/checkpoints", h.Checkpoints)
		l.POST("/checkpoints", auth, h.CreateCheckpoint)
	}
}

// Verify runs the full integrity scan and returns the report. A corrupted
// chain is a 200 with valid=false; the scan completing is the success.
func (h *LedgerHandler) Verify(c *gin.Context) {
	report, err := h.chain.VerifyIntegrity(c.Request.Context())
	if err != nil {
		h.logger.Error("integrity scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity scan failed"})
		return
	}
	if !report.Valid {
		ledgerViolationsTotal.Add(float64(len(report.Violations)))
		h.logger.Warn("ledger integrity violations found",
			zap.Int("violations", len(report.Violations)))
	}
	c.JSON(http.StatusOK, report)
}

// Root returns the chain tip.
func (h *LedgerHandler) Root(c *gin.Context) {
	root, err := h.chain.Root(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tip, err := h.chain.LastID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": root, "last_id": tip})
}

// Transactions returns the transactions in [start, end] (default: last 50).
func (h *LedgerHandler) Transactions(c *gin.Context) {
	tip, err := h.chain.LastID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	end, _ := strconv.ParseInt(c.DefaultQuery("end", strconv.FormatInt(tip, 10)), 10, 64)
	start, _ := strconv.ParseInt(c.DefaultQuery("start", strconv.FormatInt(max(1, end-49), 10)), 10, 64)

	txs, err := h.chain.Transactions(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Checkpoints lists all persisted checkpoints.
func (h *LedgerHandler) Checkpoints(c *gin.Context) {
	cps, err := h.chain.Checkpoints(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cps == nil {
		cps = []*ledger.Checkpoint{}
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps})
}

type checkpointRequest struct {
	StartID int64 `json:"start_id" binding:"required"`
	EndID   int64 `json:"end_id" binding:"required"`
}

// CreateCheckpoint summarizes the requested range on demand.
func (h *LedgerHandler) CreateCheckpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_id and end_id are required"})
		return
	}

	cp, err := h.chain.Checkpoint(c.Request.Context(), req.StartID, req.EndID)
	switch {
	case errors.Is(err, ledger.ErrRangeCheckpointed):
		c.JSON(http.StatusConflict, gin.H{"error": "range overlaps an existing checkpoint"})
		return
	case errors.Is(err, ledger.ErrEmptyRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "range contains no transactions"})
		return
	case err != nil:
		h.logger.Error("checkpoint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint failed"})
		return
	}

	ledgerCheckpointsTotal.Inc()
	c.JSON(http.StatusCreated, cp)
}
