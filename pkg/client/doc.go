// Package client is the cortex Go SDK.
//
// It provides everything a program needs to talk to a cortex daemon: storing
// and fetching facts, verifying the tamper-evident ledger, and driving the
// approval gate for destructive operations.
//
// # Connecting
//
//	c, err := client.New("http://localhost:8420",
//	    client.WithTenant("prod"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Storing and reading facts
//
//	f, err := c.StoreFact(ctx, "agent-1", []byte("the deploy key rotated"), []string{"ops"})
//	got, err := c.GetFact(ctx, f.ID)
//
// Every store is recorded in the daemon's hash-chained ledger; nothing extra
// is needed from the caller.
//
// # Verifying the ledger
//
//	report, err := c.VerifyLedger(ctx)
//	if !report.Valid {
//	    // report.Violations pinpoints the tampered transactions
//	}
//
// A corrupted chain is report content, not a transport error: err is only
// non-nil when the scan itself could not run.
//
// # Destructive operations go through the gate
//
// Purging a fact requires an approved action. The challenge returned by
// RequestPurge must be presented back as the approval signature by whoever
// holds it:
//
//	c.Login(ctx, "operator-1", adminSecret)
//	a, _ := c.RequestPurge(ctx, factID)
//	// ... hand a.Challenge to the approving operator out of band ...
//	err = c.Approve(ctx, a.ID, a.Challenge)
//	err = c.Purge(ctx, factID, a.ID)
//
// Approve returns ErrApprovalRejected for a wrong signature and
// ErrApprovalExpired once the approval window has passed; both leave the
// fact intact.
package client
