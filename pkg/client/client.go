// Package client provides the Go SDK for the cortex daemon: ledger
// verification, gate approvals, and the fact store.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrApprovalRejected is returned by Approve when the presented signature does
// not match the action's challenge. The action stays pending.
var ErrApprovalRejected = errors.New("approval signature rejected")

// ErrApprovalExpired is returned by Approve and Purge when the action's
// approval window has elapsed.
var ErrApprovalExpired = errors.New("approval expired")

// IntegrityReport is the result of a ledger verification scan.
type IntegrityReport struct {
	Valid        bool        `json:"valid"`
	TxChecked    int         `json:"tx_checked"`
	RootsChecked int         `json:"roots_checked"`
	Violations   []Violation `json:"violations"`
}

// Violation describes one integrity failure found by a scan.
type Violation struct {
	Kind         string `json:"kind"`
	TxID         int64  `json:"tx_id,omitempty"`
	CheckpointID int64  `json:"checkpoint_id,omitempty"`
	Detail       string `json:"detail"`
}

// Transaction is one ledger entry.
type Transaction struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Status    string    `json:"status"`
	PrevHash  string    `json:"prev_hash"`
	Signature string    `json:"signature"`
}

// Checkpoint is a Merkle summary over a transaction range.
type Checkpoint struct {
	ID            int64     `json:"id"`
	RootHash      string    `json:"root_hash"`
	TxStartID     int64     `json:"tx_start_id"`
	TxEndID       int64     `json:"tx_end_id"`
	TxCount       int       `json:"tx_count"`
	CreatedAt     time.Time `json:"created_at"`
	Signature     string    `json:"signature,omitempty"`
	ExternalProof string    `json:"external_proof,omitempty"`
}

// RootResult is the chain tip returned by LedgerRoot.
type RootResult struct {
	Root   string `json:"root"`
	LastID int64  `json:"last_id"`
}

// Action is the wire form of a gated action. Challenge is only populated on
// the response to the request that created the action.
type Action struct {
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

// GateStatus is the gate's operating mode.
type GateStatus struct {
	Policy          string `json:"policy"`
	EphemeralSecret bool   `json:"ephemeral_secret"`
	Pending         int    `json:"pending"`
}

// AuditEntry is one line of the daemon's audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	RefID     string    `json:"ref_id"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Fact is a stored memory record; Content is only populated by GetFact.
type Fact struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Tags      []string  `json:"tags,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Content   []byte    `json:"-"`
}

// Client is the cortex SDK entry point.
type Client struct {
	baseURL    string
	tenant     string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTenant scopes all fact operations to the given tenant. Default is
// "default".
func WithTenant(tenant string) Option {
	return func(c *Client) error {
		c.tenant = tenant
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client connected to the daemon at baseURL.
//
//	c, err := client.New("http://localhost:8420",
//	    client.WithTenant("prod"),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Login exchanges the admin secret for an operator session token and attaches
// it to the client for subsequent calls.
func (c *Client) Login(ctx context.Context, operatorID, secret string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"operator_id": operatorID, "secret": secret})
	body, err := c.post(ctx, "/api/v1/auth/login", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// VerifyLedger runs the daemon's full integrity scan and returns the report.
// A report with Valid=false is not an error from the client's point of view.
func (c *Client) VerifyLedger(ctx context.Context) (*IntegrityReport, error) {
	body, err := c.get(ctx, "/api/v1/ledger/verify")
	if err != nil {
		return nil, err
	}
	var report IntegrityReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode integrity report: %w", err)
	}
	return &report, nil
}

// LedgerRoot returns the chain tip.
func (c *Client) LedgerRoot(ctx context.Context) (*RootResult, error) {
	body, err := c.get(ctx, "/api/v1/ledger/root")
	if err != nil {
		return nil, err
	}
	var result RootResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode root response: %w", err)
	}
	return &result, nil
}

// Transactions returns the ledger entries in [startID, endID]. Pass zeros for
// the daemon's default window (the last 50).
func (c *Client) Transactions(ctx context.Context, startID, endID int64) ([]Transaction, error) {
	path := "/api/v1/ledger/transactions"
	if startID > 0 || endID > 0 {
		path += "?start=" + strconv.FormatInt(startID, 10) + "&end=" + strconv.FormatInt(endID, 10)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return wrapper.Transactions, nil
}

// Checkpoints lists the daemon's checkpoints.
func (c *Client) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	body, err := c.get(ctx, "/api/v1/ledger/checkpoints")
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode checkpoints: %w", err)
	}
	return wrapper.Checkpoints, nil
}

// CreateCheckpoint summarizes [startID, endID] into a new checkpoint.
// Requires an operator token.
func (c *Client) CreateCheckpoint(ctx context.Context, startID, endID int64) (*Checkpoint, error) {
	payload, _ := json.Marshal(map[string]int64{"start_id": startID, "end_id": endID})
	body, err := c.post(ctx, "/api/v1/ledger/checkpoints", payload)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// GateStatus returns the gate's operating mode.
func (c *Client) GateStatus(ctx context.Context) (*GateStatus, error) {
	body, err := c.get(ctx, "/api/v1/gate/status")
	if err != nil {
		return nil, err
	}
	var status GateStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode gate status: %w", err)
	}
	return &status, nil
}

// PendingActions lists actions awaiting approval, oldest first.
func (c *Client) PendingActions(ctx context.Context) ([]Action, error) {
	body, err := c.get(ctx, "/api/v1/gate/actions")
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Actions []Action `json:"actions"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return wrapper.Actions, nil
}

// GetAction returns one action's current state.
func (c *Client) GetAction(ctx context.Context, actionID string) (*Action, error) {
	body, err := c.get(ctx, "/api/v1/gate/actions/"+actionID)
	if err != nil {
		return nil, err
	}
	var a Action
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return &a, nil
}

// RequestApproval registers a gated action and returns it with its HMAC
// challenge. Requires an operator token.
func (c *Client) RequestApproval(ctx context.Context, level, description, command, project string) (*Action, error) {
	payload, _ := json.Marshal(map[string]string{
		"level":       level,
		"description": description,
		"command":     command,
		"project":     project,
	})
	body, err := c.post(ctx, "/api/v1/gate/actions", payload)
	if err != nil {
		return nil, err
	}
	var a Action
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return &a, nil
}

// Approve presents a signature for a pending action. Returns
// ErrApprovalRejected for a bad signature and ErrApprovalExpired for a timed
// out action; both are expected operational outcomes, not transport failures.
func (c *Client) Approve(ctx context.Context, actionID, signature string) error {
	payload, _ := json.Marshal(map[string]string{"signature": signature})
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/gate/actions/"+actionID+"/approve", payload)
	if err != nil {
		return err
	}

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusForbidden:
		return ErrApprovalRejected
	case http.StatusGone:
		return ErrApprovalExpired
	case http.StatusNotFound:
		return fmt.Errorf("action not found: %s", actionID)
	default:
		return fmt.Errorf("approve failed %d: %s", status, string(body))
	}
}

// Deny resolves a pending action negatively. Requires an operator token.
func (c *Client) Deny(ctx context.Context, actionID, reason string) error {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	_, err := c.post(ctx, "/api/v1/gate/actions/"+actionID+"/deny", payload)
	return err
}

// AuditTail returns the last n audit entries.
func (c *Client) AuditTail(ctx context.Context, n int) ([]AuditEntry, error) {
	body, err := c.get(ctx, "/api/v1/gate/audit?n="+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode audit entries: %w", err)
	}
	return wrapper.Entries, nil
}

// StoreFact persists content under the client's tenant and returns the new
// fact.
func (c *Client) StoreFact(ctx context.Context, actorID string, content []byte, tags []string) (*Fact, error) {
	payload, _ := json.Marshal(map[string]any{
		"actor_id": actorID,
		"content":  base64.StdEncoding.EncodeToString(content),
		"tags":     tags,
	})
	body, err := c.post(ctx, "/api/v1/memory/facts", payload)
	if err != nil {
		return nil, err
	}
	var f Fact
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode fact: %w", err)
	}
	return &f, nil
}

// GetFact fetches a fact with its content.
func (c *Client) GetFact(ctx context.Context, factID string) (*Fact, error) {
	body, err := c.get(ctx, "/api/v1/memory/facts/"+factID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Fact    Fact   `json:"fact"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fact response: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decode fact content: %w", err)
	}
	resp.Fact.Content = content
	return &resp.Fact, nil
}

// ListFactsByTag returns the tenant's facts carrying tag, without content.
func (c *Client) ListFactsByTag(ctx context.Context, tag string) ([]Fact, error) {
	body, err := c.get(ctx, "/api/v1/memory/facts?tag="+tag)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Facts []Fact `json:"facts"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode facts: %w", err)
	}
	return wrapper.Facts, nil
}

// DeprecateFact marks a fact deprecated, recording the transition in the
// ledger.
func (c *Client) DeprecateFact(ctx context.Context, actorID, factID string) error {
	payload, _ := json.Marshal(map[string]string{"actor_id": actorID})
	_, err := c.post(ctx, "/api/v1/memory/facts/"+factID+"/deprecate", payload)
	return err
}

// RequestPurge registers the gated purge action for a fact and returns it
// with its challenge. Requires an operator token.
func (c *Client) RequestPurge(ctx context.Context, factID string) (*Action, error) {
	body, err := c.post(ctx, "/api/v1/memory/facts/"+factID+"/purge-request", nil)
	if err != nil {
		return nil, err
	}
	var a Action
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode purge action: %w", err)
	}
	return &a, nil
}

// Purge deletes a fact through the gate. actionID must identify an approved
// purge action; ErrApprovalExpired is returned when the approval timed out.
func (c *Client) Purge(ctx context.Context, factID, actionID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete,
		"/api/v1/memory/facts/"+factID+"?action="+actionID, nil)
	if err != nil {
		return err
	}

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusGone:
		return ErrApprovalExpired
	case http.StatusForbidden:
		return fmt.Errorf("purge action not approved")
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s", string(body))
	default:
		return fmt.Errorf("purge failed %d: %s", status, string(body))
	}
}

// newRequest builds a request against the daemon, attaching the tenant header
// and bearer token when present.
func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.tenant != "" {
		req.Header.Set("X-Cortex-Tenant", c.tenant)
	}

	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// do executes an HTTP request, failing on any non-2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body,
// error) without failing on 4xx responses. The caller interprets the status
// code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
