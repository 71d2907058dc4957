package identity_test

import (
	"testing"
	"time"

	"github.com/cortexmem/cortex/internal/identity"
)

func TestIssueVerify_roundTrip(t *testing.T) {
	issuer := identity.NewOperatorTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "http://localhost:7700", time.Hour)

	token, err := issuer.Issue("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.OperatorID != "alice" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "http://localhost:7700" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestVerify_wrongKey(t *testing.T) {
	a := identity.NewOperatorTokenIssuer([]byte("key-aaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), "http://localhost:7700", time.Hour)
	b := identity.NewOperatorTokenIssuer([]byte("key-bbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), "http://localhost:7700", time.Hour)

	token, err := a.Issue("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Error("token signed with a different key verified")
	}
}

func TestVerify_expired(t *testing.T) {
	issuer := identity.NewOperatorTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "http://localhost:7700", -time.Minute)

	token, err := issuer.Issue("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerify_garbage(t *testing.T) {
	issuer := identity.NewOperatorTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "http://localhost:7700", time.Hour)
	if _, err := issuer.Verify("not.a.jwt"); err == nil {
		t.Error("garbage token verified")
	}
}
