package reliability

import (
	"context"
	"time"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusService assembles one point-in-time view of the daemon: database
// health and size, table row counts, host resource usage, and the last
// download per watchlist symbol.
type StatusService struct {
	db        *database.DB
	logs      *marketdata.DownloadLogRepository
	watchlist []string
	log       zerolog.Logger
}

// NewStatusService creates a new status service. logs may be nil when
// download history is not wired.
func NewStatusService(db *database.DB, logs *marketdata.DownloadLogRepository, watchlist []string, log zerolog.Logger) *StatusService {
	return &StatusService{
		db:        db,
		logs:      logs,
		watchlist: watchlist,
		log:       log.With().Str("service", "status").Logger(),
	}
}

// DatabaseStatus describes the database file and its contents.
type DatabaseStatus struct {
	Healthy      bool             `json:"healthy"`
	Error        string           `json:"error,omitempty"`
	SizeBytes    int64            `json:"size_bytes"`
	WALSizeBytes int64            `json:"wal_size_bytes"`
	Path         string           `json:"path"`
	TableCounts  map[string]int64 `json:"table_counts"`
}

// HostStatus describes resource usage of the machine running the daemon.
type HostStatus struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsed  uint64  `json:"memory_used_bytes"`
	MemoryTotal uint64  `json:"memory_total_bytes"`
	DiskUsed    uint64  `json:"disk_used_bytes"`
	DiskTotal   uint64  `json:"disk_total_bytes"`
	DiskPercent float64 `json:"disk_percent"`
}

// SymbolFreshness is the most recent download attempt for one symbol.
type SymbolFreshness struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status,omitempty"`
	LastDate     string `json:"last_date,omitempty"`
	DownloadedAt string `json:"downloaded_at,omitempty"`
	NeverFetched bool   `json:"never_fetched,omitempty"`
}

// SystemStatus is the full status report.
type SystemStatus struct {
	Timestamp time.Time         `json:"timestamp"`
	Database  DatabaseStatus    `json:"database"`
	Host      HostStatus        `json:"host"`
	Downloads []SymbolFreshness `json:"downloads,omitempty"`
}

// statusTables are the tables worth counting in a status report.
var statusTables = []string{
	"stocks",
	"stock_prices",
	"financial_statements",
	"download_logs",
	"transactions",
	"purchase_lots",
	"sale_allocations",
	"daily_pnl",
}

// Collect gathers the status report. Host metric failures are logged and
// leave zero values rather than failing the whole report.
func (s *StatusService) Collect(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{Timestamp: time.Now().UTC()}

	status.Database = s.collectDatabase(ctx)
	status.Host = s.collectHost(ctx)
	status.Downloads = s.collectDownloads()

	return status, nil
}

func (s *StatusService) collectDatabase(ctx context.Context) DatabaseStatus {
	ds := DatabaseStatus{
		Healthy:     true,
		Path:        s.db.Path(),
		TableCounts: make(map[string]int64),
	}

	if err := s.db.HealthCheck(ctx); err != nil {
		ds.Healthy = false
		ds.Error = err.Error()
		s.log.Error().Err(err).Msg("Database health check failed")
	}

	if stats, err := s.db.GetStats(); err == nil {
		ds.SizeBytes = stats.SizeBytes
		ds.WALSizeBytes = stats.WALSizeBytes
	} else {
		s.log.Warn().Err(err).Msg("Failed to read database stats")
	}

	for _, table := range statusTables {
		var count int64
		// Table names come from the fixed list above, never from input.
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			s.log.Debug().Err(err).Str("table", table).Msg("Failed to count table")
			continue
		}
		ds.TableCounts[table] = count
	}

	return ds
}

func (s *StatusService) collectHost(ctx context.Context) HostStatus {
	var hs HostStatus

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		hs.CPUPercent = percents[0]
	} else if err != nil {
		s.log.Debug().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemoryUsed = vm.Used
		hs.MemoryTotal = vm.Total
	} else {
		s.log.Debug().Err(err).Msg("Failed to read memory usage")
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		hs.DiskUsed = du.Used
		hs.DiskTotal = du.Total
		hs.DiskPercent = du.UsedPercent
	} else {
		s.log.Debug().Err(err).Msg("Failed to read disk usage")
	}

	return hs
}

func (s *StatusService) collectDownloads() []SymbolFreshness {
	if s.logs == nil || len(s.watchlist) == 0 {
		return nil
	}

	freshness := make([]SymbolFreshness, 0, len(s.watchlist))
	for _, symbol := range s.watchlist {
		entries, err := s.logs.RecentForSymbol(symbol, 1)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read download history")
			continue
		}
		if len(entries) == 0 {
			freshness = append(freshness, SymbolFreshness{Symbol: symbol, NeverFetched: true})
			continue
		}

		entry := entries[0]
		freshness = append(freshness, SymbolFreshness{
			Symbol:       entry.Symbol,
			Status:       entry.Status,
			LastDate:     entry.LastDate,
			DownloadedAt: entry.CreatedAt,
		})
	}

	return freshness
}
