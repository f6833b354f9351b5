// Package marketdata acquires daily price history and financial statements
// from upstream providers and persists them in the local store.
package marketdata

import "time"

// Stock is a row of the stocks table.
type Stock struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"company_name,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Download types recorded in download_logs.
const (
	DownloadTypePrices     = "prices"
	DownloadTypeFinancials = "financials"
)

// Download statuses recorded in download_logs.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// DownloadLog is one per-symbol download attempt.
type DownloadLog struct {
	ID            int64  `json:"id"`
	RunID         string `json:"run_id"`
	Symbol        string `json:"symbol"`
	DownloadType  string `json:"download_type"`
	Strategy      string `json:"strategy,omitempty"`
	Status        string `json:"status"`
	RowsAdded     int    `json:"rows_added"`
	FirstDate     string `json:"first_date,omitempty"`
	LastDate      string `json:"last_date,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Result is the per-symbol outcome of a download.
type Result struct {
	Symbol        string        `json:"symbol"`
	Success       bool          `json:"success"`
	StrategyUsed  string        `json:"strategy_used,omitempty"`
	RowsAdded     int           `json:"rows_added"`
	FirstDate     string        `json:"first_date,omitempty"`
	LastDate      string        `json:"last_date,omitempty"`
	NoNewData     bool          `json:"no_new_data,omitempty"`
	ErrorCategory string        `json:"error_category,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Duration      time.Duration `json:"-"`
}
