// Package cli implements the purser command tree.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/purser/internal/clientdata"
	"github.com/aristath/purser/internal/clients/finnhub"
	"github.com/aristath/purser/internal/clients/stooq"
	"github.com/aristath/purser/internal/config"
	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/aristath/purser/internal/modules/pnl"
	"github.com/aristath/purser/internal/modules/portfolio"
	"github.com/aristath/purser/internal/reliability"
	"github.com/aristath/purser/pkg/logger"
)

// app wires configuration, storage and services for one command run.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	db  *database.DB

	stocks     *marketdata.StockRepository
	prices     *marketdata.PriceRepository
	financials *marketdata.FinancialRepository
	logs       *marketdata.DownloadLogRepository
	data       *marketdata.Service
	finnhub    *finnhub.Client
	cache      *clientdata.Repository

	transactions *ledger.TransactionRepository
	lots         *ledger.LotRepository
	allocations  *ledger.AllocationRepository
	ledger       *ledger.Service

	pnlRepo   *pnl.Repository
	portfolio *portfolio.Service
}

// newApp loads configuration, opens the database and builds the service
// graph. Callers must Close.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	db, err := database.New(database.Config{
		Path:    cfg.DBPath,
		Profile: database.ProfileLedger,
		Name:    "purser",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	conn := db.Conn()

	stocks := marketdata.NewStockRepository(conn, log)
	prices := marketdata.NewPriceRepository(conn, log)
	financials := marketdata.NewFinancialRepository(conn, log)
	logs := marketdata.NewDownloadLogRepository(conn, log)

	cache := clientdata.NewRepository(conn)
	bulk := stooq.NewClient(stooq.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay(),
		Timeout:    cfg.AttemptTimeout(),
	}, log)
	api := finnhub.NewClient(finnhub.Config{
		APIKey:     cfg.FinnhubAPIKey,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay(),
		Timeout:    cfg.AttemptTimeout(),
	}, cache, log)

	data := marketdata.NewService(stocks, prices, financials, logs, bulk, api, api, marketdata.Config{
		ThresholdDays:        cfg.IncrementalThresholdDays,
		HistoryStart:         cfg.HistoryStartDate,
		FinancialRefreshDays: cfg.FinancialRefreshDays,
		WorkerPoolSize:       cfg.WorkerPoolSize,
		TotalDeadline:        cfg.TotalDeadline(),
	}, log)

	transactions := ledger.NewTransactionRepository(conn, log)
	lots := ledger.NewLotRepository(conn, log)
	allocations := ledger.NewAllocationRepository(conn, log)
	ledgerSvc := ledger.NewService(conn, transactions, lots, allocations, log)

	pnlRepo := pnl.NewRepository(conn, log)

	portfolioSvc := portfolio.NewService(conn, ledgerSvc, lots, allocations, transactions,
		prices, pnlRepo, portfolio.Config{PriceSource: cfg.PriceSource}, log)

	return &app{
		cfg:          cfg,
		log:          log,
		db:           db,
		stocks:       stocks,
		prices:       prices,
		financials:   financials,
		logs:         logs,
		data:         data,
		finnhub:      api,
		cache:        cache,
		transactions: transactions,
		lots:         lots,
		allocations:  allocations,
		ledger:       ledgerSvc,
		pnlRepo:      pnlRepo,
		portfolio:    portfolioSvc,
	}, nil
}

// calculator builds a PnL calculator, optionally overriding the configured
// price source for this run.
func (a *app) calculator(priceSource string) *pnl.Calculator {
	if priceSource == "" {
		priceSource = a.cfg.PriceSource
	}
	return pnl.NewCalculator(a.pnlRepo, a.prices, a.lots, a.allocations, a.transactions, pnl.Config{
		PriceSource:          priceSource,
		MissingPriceStrategy: a.cfg.MissingPriceStrategy,
	}, a.log)
}

func (a *app) backup() *reliability.BackupService {
	return reliability.NewBackupService(a.db, reliability.BackupConfig{
		Dir:               a.cfg.BackupDir,
		Retention:         a.cfg.BackupRetention,
		S3Bucket:          a.cfg.S3BackupBucket,
		S3Endpoint:        a.cfg.S3Endpoint,
		S3Region:          a.cfg.S3Region,
		S3AccessKeyID:     a.cfg.S3AccessKeyID,
		S3SecretAccessKey: a.cfg.S3SecretAccessKey,
	}, a.log)
}

func (a *app) statusService() *reliability.StatusService {
	// A missing watchlist only hides the freshness section of the report.
	watchlist, _, err := resolveWatchlist(a.cfg, nil)
	if err != nil {
		watchlist = nil
	}
	return reliability.NewStatusService(a.db, a.logs, watchlist, a.log)
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}
