package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/audit"
	"github.com/cortexmem/cortex/internal/gate"
	"github.com/cortexmem/cortex/internal/health"
	"github.com/cortexmem/cortex/internal/identity"
	"github.com/cortexmem/cortex/internal/ledger"
	"github.com/cortexmem/cortex/internal/memory"
	"github.com/cortexmem/cortex/internal/server/handler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("cortexd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("cortexd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8420)
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.admin_secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("gate.policy", "enforce")
	viper.SetDefault("gate.secret", "")
	viper.SetDefault("gate.approval_timeout", "5m")
	viper.SetDefault("gate.retention", "24h")
	viper.SetDefault("gate.sweep_interval", "1m")
	viper.SetDefault("ledger.checkpoint_batch", 50)
	viper.SetDefault("ledger.checkpoint_interval", "5m")
	viper.SetDefault("ledger.scan_interval", "15m")
	viper.SetDefault("audit.capacity", 1000)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Audit trail ──────────────────────────────────────────────────────────
	trail := audit.NewLog(viper.GetInt("audit.capacity"))

	// ── Ledger ───────────────────────────────────────────────────────────────
	// An empty database.url selects the in-memory ledger and fact store; the
	// chain then only lives as long as the process.
	var chain ledger.Ledger
	var repo memory.Repository
	var db *pgxpool.Pool

	if dbURL := viper.GetString("database.url"); dbURL != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		chain = ledger.NewPostgresLedger(db, trail, logger)
		repo = memory.NewPostgresRepository(db)
	} else {
		logger.Warn("database.url not set, ledger and facts are in-memory and will not survive a restart")
		chain = ledger.New(trail)
		repo = memory.NewMemoryRepository()
	}

	// Startup integrity scan: a tampered chain is worth knowing about before
	// serving traffic, but it is the operator's call, so warn and continue.
	monitor := health.New(chain, health.Config{
		ScanInterval: viper.GetDuration("ledger.scan_interval"),
	}, logger)
	monitor.SetReportFunc(func(report *ledger.IntegrityReport) {
		handler.SetLedgerTransactions(int64(report.TxChecked))
		if !report.Valid {
			handler.AddLedgerViolations(len(report.Violations))
		}
	})

	startCtx := context.Background()
	report := monitor.Scan(startCtx)
	if report == nil {
		return errors.New("startup integrity scan failed")
	}
	if report.Valid {
		root, _ := chain.Root(startCtx)
		logger.Info("ledger verified",
			zap.Int("transactions", report.TxChecked),
			zap.Int("checkpoints", report.RootsChecked),
			zap.String("root", root),
		)
	}

	// ── Gate ─────────────────────────────────────────────────────────────────
	policy, err := gate.ParsePolicy(viper.GetString("gate.policy"))
	if err != nil {
		return fmt.Errorf("gate.policy: %w", err)
	}
	guard, err := gate.New(gate.Config{
		Policy:          policy,
		Secret:          viper.GetString("gate.secret"),
		ApprovalTimeout: viper.GetDuration("gate.approval_timeout"),
		Retention:       viper.GetDuration("gate.retention"),
	}, trail, logger)
	if err != nil {
		return fmt.Errorf("gate setup: %w", err)
	}
	logger.Info("gate ready",
		zap.String("policy", policy.String()),
		zap.Bool("ephemeral_secret", guard.Ephemeral()),
	)

	// ── Identity ─────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	baseURL := viper.GetString("server.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}
	tokens := identity.NewOperatorTokenIssuer(guard.Keys().TokenKey(), baseURL, 0)

	// ── Memory service ───────────────────────────────────────────────────────
	svc := memory.NewService(repo, memory.PlainCipher{}, chain, guard, logger)

	// ── Handlers ─────────────────────────────────────────────────────────────
	requireOperator := handler.RequireOperator(tokens)
	authHandler := handler.NewAuthHandler(tokens, viper.GetString("server.admin_secret"), logger)
	gateHandler := handler.NewGateHandler(guard, trail, logger)
	ledgerHandler := handler.NewLedgerHandler(chain, logger)
	memoryHandler := handler.NewMemoryHandler(svc, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Cortex-Tenant"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("server.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))
	handler.MetricsRoute(router)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	authHandler.Register(v1)
	gateHandler.Register(v1, requireOperator)
	ledgerHandler.Register(v1, requireOperator)
	memoryHandler.Register(v1, requireOperator)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// stop fans the shutdown out to the background loops; a signal channel
	// only wakes one receiver.
	stop := make(chan struct{})

	// ── Background: gate sweep ───────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(viper.GetDuration("gate.sweep_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				guard.Sweep()
				handler.SetPendingActions(len(guard.Pending()))
			case <-stop:
				return
			}
		}
	}()

	// ── Background: automatic checkpointing ──────────────────────────────────
	go func() {
		batch := viper.GetInt("ledger.checkpoint_batch")
		ticker := time.NewTicker(viper.GetDuration("ledger.checkpoint_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				cps, err := ledger.CheckpointDue(ctx, chain, batch)
				cancel()
				if err != nil {
					logger.Warn("automatic checkpoint error", zap.Error(err))
					continue
				}
				for _, cp := range cps {
					logger.Info("checkpoint created",
						zap.Int64("start", cp.TxStartID),
						zap.Int64("end", cp.TxEndID),
						zap.String("root", cp.RootHash),
					)
				}
			case <-stop:
				return
			}
		}
	}()

	// ── Background: scheduled integrity scans ────────────────────────────────
	go monitor.Start(stop)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("cortexd listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	close(stop)
	logger.Info("shutting down cortexd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("cortexd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
