package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
	"github.com/cortexmem/cortex/internal/gate"
)

// GateHandler exposes the gate's status, approval, and audit surfaces. The
// challenge/response itself stays local: this API only reports state and
// accepts signatures computed out of band.
type GateHandler struct {
	guard  *gate.Gate
	trail  *audit.Log
	logger *zap.Logger
}

// NewGateHandler creates a GateHandler.
func NewGateHandler(guard *gate.Gate, trail *audit.Log, logger *zap.Logger) *GateHandler {
	return &GateHandler{guard: guard, trail: trail, logger: logger}
}

// Register mounts the gate routes. auth guards the mutating ones.
func (h *GateHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	g := rg.Group("/gate")
	{
		g.GET("/status", h.Status)
		g.GET("/actions", h.ListPending)
		g.GET("/actions/:id", h.GetAction)
		g.GET("/audit", h.AuditTail)
		g.POST("/actions", auth, h.RequestApproval)
		g.POST("/actions/:id/approve", auth, h.Approve)
		g.POST("/actions/:id/deny", auth, h.Deny)
	}
}

// actionView is the wire form of an action. The HMAC challenge is only
// included for the requester's own RequestApproval response; listings never
// carry it, since knowing the challenge is the approval.
type actionView struct {
	ID          string     `json:"id"`
	Level       string     `json:"level"`
	Description string     `json:"description"`
	Command     string     `json:"command,omitempty"`
	Project     string     `json:"project,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	Operator    string     `json:"operator,omitempty"`
	Result      string     `json:"result,omitempty"`
	Challenge   string     `json:"challenge,omitempty"`
}

func viewAction(a *gate.Action, includeChallenge bool) actionView {
	v := actionView{
		ID:          a.ID,
		Level:       a.Level.String(),
		Description: a.Description,
		Command:     a.Command,
		Project:     a.Project,
		Status:      a.Status.String(),
		CreatedAt:   a.CreatedAt,
		Operator:    a.Operator,
		Result:      a.Result,
	}
	if !a.ApprovedAt.IsZero() {
		v.ApprovedAt = &a.ApprovedAt
	}
	if !a.ExecutedAt.IsZero() {
		v.ExecutedAt = &a.ExecutedAt
	}
	if includeChallenge {
		v.Challenge = a.Challenge
	}
	return v
}

// Status reports the gate's operating mode, prominently including whether it
// is running on an ephemeral secret.
func (h *GateHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"policy":           h.guard.Policy().String(),
		"ephemeral_secret": h.guard.Ephemeral(),
		"pending":          len(h.guard.Pending()),
	})
}

// ListPending returns all pending actions, oldest first.
func (h *GateHandler) ListPending(c *gin.Context) {
	pending := h.guard.Pending()
	out := make([]actionView, 0, len(pending))
	for _, a := range pending {
		out = append(out, viewAction(a, false))
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}

// GetAction returns one action's current state.
func (h *GateHandler) GetAction(c *gin.Context) {
	a, err := h.guard.Get(c.Param("id"))
	if errors.Is(err, gate.ErrActionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewAction(a, false))
}

type requestApprovalRequest struct {
	Level       string `json:"level" binding:"required"`
	Description string `json:"description" binding:"required"`
	Command     string `json:"command"`
	Project     string `json:"project"`
	Context     string `json:"context"`
}

// RequestApproval registers a gated action and returns it with its
// challenge.
func (h *GateHandler) RequestApproval(c *gin.Context) {
	var req requestApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level and description are required"})
		return
	}
	level, err := gate.ParseLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := h.guard.RequestApproval(level, req.Description, req.Command, req.Project, req.Context)
	c.JSON(http.StatusCreated, viewAction(a, true))
}

type approveRequest struct {
	Signature string `json:"signature" binding:"required"`
}

// Approve presents a signature for a pending action. Signature failures and
// timeouts map to distinct responses so an attack is distinguishable from an
// operator being slow.
func (h *GateHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature is required"})
		return
	}

	outcome, err := h.guard.Approve(c.Param("id"), req.Signature, operatorID(c))
	if errors.Is(err, gate.ErrActionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	gateDecisionsTotal.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case gate.OutcomeApproved:
		c.JSON(http.StatusOK, gin.H{"outcome": outcome.String()})
	case gate.OutcomeExpired:
		c.JSON(http.StatusGone, gin.H{"outcome": outcome.String()})
	case gate.OutcomeInvalidSignature:
		h.logger.Warn("approval signature rejected",
			zap.String("action_id", c.Param("id")),
			zap.String("operator_id", operatorID(c)))
		c.JSON(http.StatusForbidden, gin.H{"outcome": outcome.String()})
	default:
		c.JSON(http.StatusConflict, gin.H{"outcome": outcome.String()})
	}
}

type denyRequest struct {
	Reason string `json:"reason"`
}

// Deny resolves a pending action negatively.
func (h *GateHandler) Deny(c *gin.Context) {
	var req denyRequest
	_ = c.ShouldBindJSON(&req)

	err := h.guard.Deny(c.Param("id"), operatorID(c), req.Reason)
	if errors.Is(err, gate.ErrActionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	gateDecisionsTotal.WithLabelValues("denied").Inc()
	c.JSON(http.StatusOK, gin.H{"outcome": "denied"})
}

// AuditTail returns the last n audit entries (default 50).
func (h *GateHandler) AuditTail(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "50"))
	c.JSON(http.StatusOK, gin.H{"entries": h.trail.Tail(n)})
}
