package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/purser/internal/domain"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "purser",
	})
}

// handleStatus returns the full system status report.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		s.writeError(w, http.StatusNotFound, "status reporting is not enabled")
		return
	}

	status, err := s.deps.Status.Collect(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handlePrices returns stored daily bars for a symbol. Optional query
// parameters: from, to (YYYY-MM-DD) and limit.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	for _, date := range []string{from, to} {
		if date != "" && !domain.ValidDate(date) {
			s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	bars, err := s.deps.Prices.GetPrices(symbol, from, to, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(bars) == 0 {
		s.writeError(w, http.StatusNotFound, "no prices stored for "+symbol)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"count":  len(bars),
		"bars":   bars,
	})
}

// handlePositions returns the current portfolio summary for an owner,
// valued at the optional as_of date.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asOf := r.URL.Query().Get("as_of")

	if asOf != "" && !domain.ValidDate(asOf) {
		s.writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
		return
	}

	summary, err := s.deps.Portfolio.Summary(r.Context(), owner, asOf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// handleLots returns purchase lots for an owner. With open=true only
// lots with remaining shares are returned; symbol filters optionally.
func (s *Server) handleLots(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	openOnly := r.URL.Query().Get("open") == "true"

	var (
		lots interface{}
		err  error
	)
	if openOnly {
		if symbol == "" {
			s.writeError(w, http.StatusBadRequest, "open lots require a symbol")
			return
		}
		lots, err = s.deps.Ledger.GetOpenLots(owner, symbol)
	} else {
		lots, err = s.deps.Ledger.GetLots(owner, symbol)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id": owner,
		"lots":     lots,
	})
}

// handlePnL returns stored daily valuation rows for an owner. Optional
// query parameters: symbol, from, to.
func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	for _, date := range []string{from, to} {
		if date != "" && !domain.ValidDate(date) {
			s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	rows, err := s.deps.PnL.GetDailyPnL(owner, symbol, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id": owner,
		"count":    len(rows),
		"rows":     rows,
	})
}

// handlePerformance returns the portfolio performance report computed
// from stored daily valuations.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	for _, date := range []string{from, to} {
		if date != "" && !domain.ValidDate(date) {
			s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	perf, err := s.deps.Portfolio.Performance(r.Context(), owner, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, perf)
}

// handleRecentDownloads returns the most recent download log entries.
func (s *Server) handleRecentDownloads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.deps.Logs.Recent(limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// writeDomainError maps error kinds onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound, domain.KindNoData, domain.KindNoPrice:
		status = http.StatusNotFound
	case domain.KindDuplicate, domain.KindConstraint:
		status = http.StatusConflict
	case domain.KindProviderUnavailable:
		status = http.StatusBadGateway
	}

	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
