package client_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cortexmem/cortex/pkg/client"
)

func stubDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperatorID string `json:"operator_id"`
			Secret     string `json:"secret"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Secret != "hunter2" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc", "operator_id": req.OperatorID})
	})

	mux.HandleFunc("/api/v1/ledger/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid":      false,
			"tx_checked": 42,
			"violations": []map[string]any{
				{"kind": "signature", "tx_id": 7, "detail": "stored fields do not produce the stored signature"},
			},
		})
	})

	mux.HandleFunc("/api/v1/gate/actions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abc" {
			http.Error(w, `{"error":"operator token required"}`, http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/approve") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Signature string `json:"signature"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Signature {
		case "good":
			json.NewEncoder(w).Encode(map[string]string{"outcome": "approved"})
		case "stale":
			w.WriteHeader(http.StatusGone)
			json.NewEncoder(w).Encode(map[string]string{"outcome": "expired"})
		default:
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"outcome": "invalid_signature"})
		}
	})

	mux.HandleFunc("/api/v1/memory/facts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "550e8400-e29b-41d4-a716-446655440000",
			"tenant_id": r.Header.Get("X-Cortex-Tenant"),
			"status":    "active",
		})
	})

	mux.HandleFunc("/api/v1/memory/facts/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"fact": map[string]any{
				"id":     strings.TrimPrefix(r.URL.Path, "/api/v1/memory/facts/"),
				"status": "active",
			},
			"content": base64.StdEncoding.EncodeToString([]byte("remembered")),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin_attachesToken(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL)

	token, err := c.Login(context.Background(), "op-1", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-abc" {
		t.Errorf("token = %q", token)
	}

	// The approve endpoint requires the token Login stored.
	if err := c.Approve(context.Background(), "a1", "good"); err != nil {
		t.Errorf("approve after login: %v", err)
	}
}

func TestApprove_outcomeMapping(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL, client.WithBearerToken("tok-abc"))
	ctx := context.Background()

	if err := c.Approve(ctx, "a1", "wrong"); !errors.Is(err, client.ErrApprovalRejected) {
		t.Errorf("bad signature: err = %v, want ErrApprovalRejected", err)
	}
	if err := c.Approve(ctx, "a1", "stale"); !errors.Is(err, client.ErrApprovalExpired) {
		t.Errorf("expired action: err = %v, want ErrApprovalExpired", err)
	}
	if err := c.Approve(ctx, "a1", "good"); err != nil {
		t.Errorf("valid signature: err = %v", err)
	}
}

func TestApprove_withoutTokenFails(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL)

	err := c.Approve(context.Background(), "a1", "good")
	if err == nil || errors.Is(err, client.ErrApprovalRejected) {
		t.Errorf("unauthenticated approve: err = %v, want transport error", err)
	}
}

func TestVerifyLedger_invalidChainIsNotAnError(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL)

	report, err := c.VerifyLedger(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid || report.TxChecked != 42 || len(report.Violations) != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Violations[0].TxID != 7 {
		t.Errorf("violation tx = %d, want 7", report.Violations[0].TxID)
	}
}

func TestStoreFact_sendsTenantHeader(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL, client.WithTenant("prod"))

	f, err := c.StoreFact(context.Background(), "agent-1", []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.TenantID != "prod" {
		t.Errorf("server saw tenant %q, want prod", f.TenantID)
	}
}

func TestGetFact_decodesContent(t *testing.T) {
	srv := stubDaemon(t)
	c := client.MustNew(srv.URL)

	f, err := c.GetFact(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Content) != "remembered" {
		t.Errorf("content = %q", f.Content)
	}
}
