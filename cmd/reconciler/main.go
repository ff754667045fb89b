// Command reconciler runs the payment reconciliation loop without the HTTP
// API. Deploy it separately when the API tier is scaled horizontally so
// only one process sweeps the wallet backends.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/xmrcheckout/internal/config"
	"github.com/mbd888/xmrcheckout/internal/gateway"
	"github.com/mbd888/xmrcheckout/internal/invoice"
	"github.com/mbd888/xmrcheckout/internal/ledger"
	"github.com/mbd888/xmrcheckout/internal/logging"
	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/reconciler"
	"github.com/mbd888/xmrcheckout/internal/secrets"
	"github.com/mbd888/xmrcheckout/internal/traces"
	"github.com/mbd888/xmrcheckout/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "json")

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required: the reconciler shares state with the API through Postgres")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	box, err := secrets.NewBox(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to build secrets box", "error", err)
		os.Exit(1)
	}

	pool, err := gateway.New(gateway.Config{
		RPCURLs:        cfg.WalletRPCURLs,
		User:           cfg.WalletRPCUser,
		Password:       cfg.WalletRPCPassword,
		WalletPassword: cfg.WalletFilePassword,
		DaemonURL:      cfg.DaemonURL,
	})
	if err != nil {
		logger.Error("failed to create wallet gateway", "error", err)
		os.Exit(1)
	}

	owners := owner.NewPostgresStore(db, box)
	invoices := invoice.NewPostgresStore(db)
	transfers := ledger.New(ledger.NewPostgresStore(db))
	dispatcher := webhooks.NewDispatcher(
		webhooks.NewPostgresStore(db),
		webhooks.NewPostgresDeliveryStore(db),
		logger,
	)

	runner := reconciler.NewRunner(invoices, owners, transfers, pool, dispatcher,
		reconciler.Config{
			Lookback: time.Duration(cfg.LatePaymentLookback) * time.Hour,
			Account:  0,
		},
		logger,
	)
	timer := reconciler.NewTimer(runner, time.Duration(cfg.ReconcileInterval)*time.Second, logger)

	logger.Info("reconciler starting",
		"interval_seconds", cfg.ReconcileInterval,
		"lookback_hours", cfg.LatePaymentLookback,
		"wallet_rpc_backends", len(cfg.WalletRPCURLs),
	)

	go timer.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", "signal", sig.String())

	cancel()
	timer.Stop()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	pool.CloseAll(closeCtx)

	logger.Info("reconciler stopped")
}
