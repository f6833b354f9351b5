package marketdata

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

const downloadLogsColumns = `id, run_id, symbol, download_type, strategy, status, rows_added,
	first_date, last_date, error_category, error_message, duration_ms, created_at`

// DownloadLogRepository handles the download_logs table.
type DownloadLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDownloadLogRepository creates a new download log repository.
func NewDownloadLogRepository(db *sql.DB, log zerolog.Logger) *DownloadLogRepository {
	return &DownloadLogRepository{
		db:  db,
		log: log.With().Str("repo", "download_logs").Logger(),
	}
}

// Insert records one download attempt.
func (r *DownloadLogRepository) Insert(entry DownloadLog) error {
	_, err := r.db.Exec(`
		INSERT INTO download_logs
		(run_id, symbol, download_type, strategy, status, rows_added,
		 first_date, last_date, error_category, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		strings.ToUpper(strings.TrimSpace(entry.Symbol)),
		entry.DownloadType,
		nullString(entry.Strategy),
		entry.Status,
		entry.RowsAdded,
		nullString(entry.FirstDate),
		nullString(entry.LastDate),
		nullString(entry.ErrorCategory),
		nullString(entry.ErrorMessage),
		entry.DurationMS,
	)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to insert download log for %s", entry.Symbol)
	}

	return nil
}

// Recent returns the latest download attempts, newest first.
func (r *DownloadLogRepository) Recent(limit int) ([]DownloadLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + downloadLogsColumns + " FROM download_logs ORDER BY id DESC LIMIT ?"
	return r.queryLogs(query, limit)
}

// RecentForSymbol returns the latest attempts for one symbol, newest first.
func (r *DownloadLogRepository) RecentForSymbol(symbol string, limit int) ([]DownloadLog, error) {
	if limit <= 0 {
		limit = 10
	}

	query := "SELECT " + downloadLogsColumns + " FROM download_logs WHERE symbol = ? ORDER BY id DESC LIMIT ?"
	return r.queryLogs(query, strings.ToUpper(strings.TrimSpace(symbol)), limit)
}

func (r *DownloadLogRepository) queryLogs(query string, args ...interface{}) ([]DownloadLog, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query download logs")
	}
	defer rows.Close()

	var logs []DownloadLog
	for rows.Next() {
		var l DownloadLog
		var strategy, firstDate, lastDate, errCategory, errMessage sql.NullString
		err := rows.Scan(&l.ID, &l.RunID, &l.Symbol, &l.DownloadType, &strategy, &l.Status,
			&l.RowsAdded, &firstDate, &lastDate, &errCategory, &errMessage, &l.DurationMS, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download log: %w", err)
		}
		l.Strategy = strategy.String
		l.FirstDate = firstDate.String
		l.LastDate = lastDate.String
		l.ErrorCategory = errCategory.String
		l.ErrorMessage = errMessage.String
		logs = append(logs, l)
	}

	return logs, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
