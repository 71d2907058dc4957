package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cortexmem/cortex/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	serverURL string
	tenant    string
	token     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "cortex daemon CLI",
	Long: `cortex is the command-line interface for a cortex daemon.

It stores and retrieves facts, verifies the tamper-evident ledger, and
drives the approval gate for destructive operations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.cortex")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8420"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.cortex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "cortex daemon URL (default http://localhost:8420)")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant scope for fact operations")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator session token (or CORTEX_TOKEN / config)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if tenant != "" {
		opts = append(opts, client.WithTenant(tenant))
	}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginOperator string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin secret for an operator session token",
	Long: `Login reads the admin secret from the CORTEX_ADMIN_SECRET environment
variable and prints an operator session token. Export it for later commands:

  export CORTEX_TOKEN=$(cortex login --operator alice)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("CORTEX_ADMIN_SECRET")
		if secret == "" {
			return fmt.Errorf("CORTEX_ADMIN_SECRET is not set")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.Login(context.Background(), loginOperator, secret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginOperator, "operator", "", "operator id to log in as")
	_ = loginCmd.MarkFlagRequired("operator")
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify the transaction ledger",
}

var ledgerFormat string

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a full integrity scan of the hash chain and checkpoint roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		report, err := c.VerifyLedger(context.Background())
		if err != nil {
			return err
		}

		if ledgerFormat == "json" {
			return printJSON(report)
		}

		if report.Valid {
			fmt.Printf("ledger OK: %d transactions, %d checkpoint roots verified\n",
				report.TxChecked, report.RootsChecked)
			return nil
		}
		fmt.Printf("ledger CORRUPT: %d violation(s) in %d transactions\n",
			len(report.Violations), report.TxChecked)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tTX\tCHECKPOINT\tDETAIL")
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", v.Kind, v.TxID, v.CheckpointID, v.Detail)
		}
		w.Flush()
		// Exit nonzero so scripts can alert on corruption.
		os.Exit(2)
		return nil
	},
}

var ledgerRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the chain tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		root, err := c.LedgerRoot(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Last ID: %d\n", root.LastID)
		fmt.Printf("Root:    %s\n", root.Root)
		return nil
	},
}

var (
	txStart int64
	txEnd   int64
)

var ledgerTxCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List ledger transactions (default: the last 50)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		txs, err := c.Transactions(context.Background(), txStart, txEnd)
		if err != nil {
			return err
		}
		if ledgerFormat == "json" {
			return printJSON(txs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tTENANT\tACTOR\tACTION\tRESOURCE\tSTATUS")
		for _, tx := range txs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				tx.ID, tx.Timestamp.Format(time.RFC3339), tx.TenantID,
				tx.ActorID, tx.Action, tx.Resource, tx.Status)
		}
		return w.Flush()
	},
}

var ledgerCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cps, err := c.Checkpoints(context.Background())
		if err != nil {
			return err
		}
		if ledgerFormat == "json" {
			return printJSON(cps)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRANGE\tCOUNT\tCREATED\tROOT")
		for _, cp := range cps {
			fmt.Fprintf(w, "%d\t[%d, %d]\t%d\t%s\t%s\n",
				cp.ID, cp.TxStartID, cp.TxEndID, cp.TxCount,
				cp.CreatedAt.Format(time.RFC3339), cp.RootHash)
		}
		return w.Flush()
	},
}

var ledgerCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <start-id> <end-id>",
	Short: "Create a checkpoint over a transaction range (operator token required)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid start id %q", args[0])
		}
		end, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid end id %q", args[1])
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		cp, err := c.CreateCheckpoint(context.Background(), start, end)
		if err != nil {
			return err
		}
		fmt.Printf("checkpoint %d created over [%d, %d]\nroot: %s\n",
			cp.ID, cp.TxStartID, cp.TxEndID, cp.RootHash)
		return nil
	},
}

func init() {
	ledgerCmd.PersistentFlags().StringVar(&ledgerFormat, "format", "text", "Output format: text or json")
	ledgerTxCmd.Flags().Int64Var(&txStart, "start", 0, "first transaction id")
	ledgerTxCmd.Flags().Int64Var(&txEnd, "end", 0, "last transaction id")

	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerRootCmd)
	ledgerCmd.AddCommand(ledgerTxCmd)
	ledgerCmd.AddCommand(ledgerCheckpointsCmd)
	ledgerCmd.AddCommand(ledgerCheckpointCmd)
}

// ── gate ─────────────────────────────────────────────────────────────────────

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect and resolve gated actions",
}

var gateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the gate's operating mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		status, err := c.GateStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Policy:           %s\n", status.Policy)
		fmt.Printf("Ephemeral secret: %v\n", status.EphemeralSecret)
		fmt.Printf("Pending actions:  %d\n", status.Pending)
		if status.EphemeralSecret {
			fmt.Println("\nwarning: the daemon is running on an ephemeral gate secret;")
			fmt.Println("approvals will not verify after a restart")
		}
		return nil
	},
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actions awaiting approval, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		actions, err := c.PendingActions(context.Background())
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			fmt.Println("no pending actions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLEVEL\tAGE\tDESCRIPTION")
		for _, a := range actions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				a.ID, a.Level, time.Since(a.CreatedAt).Round(time.Second), a.Description)
		}
		return w.Flush()
	},
}

var (
	reqLevel   string
	reqCommand string
	reqProject string
)

var gateRequestCmd = &cobra.Command{
	Use:   "request <description>",
	Short: "Register a gated action and print its challenge (operator token required)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		a, err := c.RequestApproval(context.Background(), reqLevel, args[0], reqCommand, reqProject)
		if err != nil {
			return err
		}
		fmt.Printf("Action:    %s\n", a.ID)
		fmt.Printf("Level:     %s\n", a.Level)
		fmt.Printf("Challenge: %s\n", a.Challenge)
		fmt.Println("\nhand the challenge to the approving operator; it is shown only once")
		return nil
	},
}

var gateApproveCmd = &cobra.Command{
	Use:   "approve <action-id> <signature>",
	Short: "Present an approval signature for a pending action (operator token required)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Approve(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("approved")
		return nil
	},
}

var denyReason string

var gateDenyCmd = &cobra.Command{
	Use:   "deny <action-id>",
	Short: "Deny a pending action (operator token required)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Deny(context.Background(), args[0], denyReason); err != nil {
			return err
		}
		fmt.Println("denied")
		return nil
	},
}

var auditN int

var gateAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the daemon's recent audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.AuditTail(context.Background(), auditN)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSOURCE\tKIND\tREF\tACTOR\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Source, e.Kind, e.RefID, e.Actor, e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	gateRequestCmd.Flags().StringVar(&reqLevel, "level", "execute", "action level: read, plan, execute, or mutate")
	gateRequestCmd.Flags().StringVar(&reqCommand, "command", "", "command the action would run")
	gateRequestCmd.Flags().StringVar(&reqProject, "project", "", "project the action belongs to")
	gateDenyCmd.Flags().StringVar(&denyReason, "reason", "", "reason for the denial")
	gateAuditCmd.Flags().IntVar(&auditN, "n", 50, "number of entries to show")

	gateCmd.AddCommand(gateStatusCmd)
	gateCmd.AddCommand(gateListCmd)
	gateCmd.AddCommand(gateRequestCmd)
	gateCmd.AddCommand(gateApproveCmd)
	gateCmd.AddCommand(gateDenyCmd)
	gateCmd.AddCommand(gateAuditCmd)
}

// ── memory ───────────────────────────────────────────────────────────────────

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store, fetch, and retire facts",
}

var (
	storeActor string
	storeTags  []string
)

var memoryStoreCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		f, err := c.StoreFact(context.Background(), storeActor, []byte(args[0]), storeTags)
		if err != nil {
			return err
		}
		fmt.Println(f.ID)
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <fact-id>",
	Short: "Fetch a fact and print its content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		f, err := c.GetFact(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", f.Content)
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list --tag <tag>",
	Short: "List the tenant's facts carrying a tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		if tag == "" {
			return fmt.Errorf("--tag is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		facts, err := c.ListFactsByTag(context.Background(), tag)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tTAGS")
		for _, f := range facts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
				f.ID, f.Status, f.CreatedAt.Format(time.RFC3339), f.Tags)
		}
		return w.Flush()
	},
}

var deprecateActor string

var memoryDeprecateCmd = &cobra.Command{
	Use:   "deprecate <fact-id>",
	Short: "Mark a fact deprecated (recorded in the ledger)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeprecateFact(context.Background(), deprecateActor, args[0]); err != nil {
			return err
		}
		fmt.Println("deprecated")
		return nil
	},
}

var memoryPurgeCmd = &cobra.Command{
	Use:   "purge <fact-id>",
	Short: "Request, approve, and execute a gated purge (operator token required)",
	Long: `Purge walks the full gate flow for one fact: it registers the purge
action, echoes the challenge back as the approval signature, and executes the
delete. Use the separate gate commands when the approver is a different
person than the requester.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		a, err := c.RequestPurge(ctx, args[0])
		if err != nil {
			return err
		}
		if err := c.Approve(ctx, a.ID, a.Challenge); err != nil {
			return err
		}
		if err := c.Purge(ctx, args[0], a.ID); err != nil {
			return err
		}
		fmt.Println("purged")
		return nil
	},
}

func init() {
	memoryStoreCmd.Flags().StringVar(&storeActor, "actor", "cli", "actor id recorded in the ledger")
	memoryStoreCmd.Flags().StringSliceVar(&storeTags, "tag", nil, "tag (repeatable)")
	memoryListCmd.Flags().String("tag", "", "tag to filter by")
	memoryDeprecateCmd.Flags().StringVar(&deprecateActor, "actor", "cli", "actor id recorded in the ledger")

	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryDeprecateCmd)
	memoryCmd.AddCommand(memoryPurgeCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cortex", version)
	},
}
