package portfolio

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/aristath/purser/internal/modules/pnl"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Config controls how the summary values positions.
type Config struct {
	PriceSource string // close or adj_close
}

// Service answers portfolio-level questions. It never mutates the ledger.
type Service struct {
	db           *sql.DB
	ledger       *ledger.Service
	lots         *ledger.LotRepository
	allocations  *ledger.AllocationRepository
	transactions *ledger.TransactionRepository
	prices       *marketdata.PriceRepository
	pnl          *pnl.Repository
	cfg          Config
	log          zerolog.Logger
}

// NewService creates a new portfolio service.
func NewService(db *sql.DB, ledgerSvc *ledger.Service, lots *ledger.LotRepository,
	allocations *ledger.AllocationRepository, transactions *ledger.TransactionRepository,
	prices *marketdata.PriceRepository, pnlRepo *pnl.Repository,
	cfg Config, log zerolog.Logger) *Service {
	if cfg.PriceSource == "" {
		cfg.PriceSource = pnl.PriceSourceAdjClose
	}
	return &Service{
		db:           db,
		ledger:       ledgerSvc,
		lots:         lots,
		allocations:  allocations,
		transactions: transactions,
		prices:       prices,
		pnl:          pnlRepo,
		cfg:          cfg,
		log:          log.With().Str("service", "portfolio").Logger(),
	}
}

// Summary values the owner's current open position at the latest price at
// or before asOf. Symbols without any stored price are listed with a note
// instead of failing the whole summary; they are excluded from the totals.
func (s *Service) Summary(ctx context.Context, ownerID, asOf string) (*Summary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "owner must not be empty")
	}
	if asOf == "" {
		asOf = domain.Today()
	}
	if !domain.ValidDate(asOf) {
		return nil, domain.NewError(domain.KindValidation, "as-of date must be YYYY-MM-DD, got %q", asOf)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "summary canceled")
	}

	positions, err := s.ledger.GetPositionSummary(ownerID)
	if err != nil {
		return nil, err
	}

	out := &Summary{OwnerID: ownerID, AsOf: asOf}

	for _, pos := range positions {
		line := Position{
			Symbol:          pos.Symbol,
			Quantity:        pos.Quantity,
			WeightedAvgCost: pos.WeightedAvgCost,
			TotalCost:       pos.TotalCost,
			LotCount:        pos.LotCount,
			FirstBuyDate:    pos.FirstBuyDate,
		}

		bar, err := s.prices.GetPriceAtOrBefore(pos.Symbol, asOf)
		if err != nil {
			return nil, err
		}
		if bar == nil {
			line.Note = "no price available"
			out.MissingPrices = append(out.MissingPrices, pos.Symbol)
			out.Positions = append(out.Positions, line)
			continue
		}

		line.MarketPrice = selectPrice(bar, s.cfg.PriceSource)
		line.MarketValue = line.MarketPrice.Mul(pos.Quantity)
		line.UnrealizedPnL = line.MarketValue.Sub(pos.TotalCost)
		if pos.TotalCost.IsPositive() {
			line.UnrealizedPnLPct = line.UnrealizedPnL.Div(pos.TotalCost).Mul(hundred)
		}
		line.PriceDate = bar.Date
		line.StalePrice = bar.Date != asOf

		out.TotalCost = out.TotalCost.Add(pos.TotalCost)
		out.MarketValue = out.MarketValue.Add(line.MarketValue)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(line.UnrealizedPnL)
		out.Positions = append(out.Positions, line)
	}

	if out.TotalCost.IsPositive() {
		out.UnrealizedPnLPct = out.UnrealizedPnL.Div(out.TotalCost).Mul(hundred)
	}

	return out, nil
}

// Performance aggregates the stored daily valuations over [start, end].
// Requires rows written by the PnL calculator; an empty range is no_data.
func (s *Service) Performance(ctx context.Context, ownerID, start, end string) (*Performance, error) {
	if !domain.ValidDate(start) || !domain.ValidDate(end) {
		return nil, domain.NewError(domain.KindValidation, "start and end must be YYYY-MM-DD")
	}
	if start > end {
		return nil, domain.NewError(domain.KindValidation, "start %s is after end %s", start, end)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "performance canceled")
	}

	series, err := s.pnl.GetDailyTotals(ownerID, start, end)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, domain.NewError(domain.KindNoData,
			"no stored valuations for %s in [%s, %s], run batch-calculate first", ownerID, start, end)
	}

	perf := &Performance{
		OwnerID:    ownerID,
		Start:      start,
		End:        end,
		Days:       len(series),
		StartValue: series[0].MarketValue,
		EndValue:   series[len(series)-1].MarketValue,
		Series:     series,
	}

	last := series[len(series)-1]
	perf.UnrealizedPnL = last.UnrealizedPnL
	for _, day := range series {
		perf.RealizedPnL = perf.RealizedPnL.Add(day.RealizedPnL)
	}

	if perf.StartValue.IsPositive() {
		perf.ReturnPct = perf.EndValue.Sub(perf.StartValue).Div(perf.StartValue).Mul(hundred)
	}
	if last.TotalCost.IsPositive() {
		perf.PnLVsCostPct = last.UnrealizedPnL.Div(last.TotalCost).Mul(hundred)
	}

	peak := decimal.Zero
	for _, day := range series {
		if day.MarketValue.GreaterThan(peak) {
			peak = day.MarketValue
		}
		if peak.IsPositive() {
			drawdown := peak.Sub(day.MarketValue).Div(peak).Mul(hundred)
			if drawdown.GreaterThan(perf.MaxDrawdownPct) {
				perf.MaxDrawdownPct = drawdown
			}
		}
	}

	return perf, nil
}

// TaxReport returns realized-gain detail for sells dated in [start, end].
// Empty bounds are open-ended.
func (s *Service) TaxReport(ctx context.Context, ownerID, start, end string) (*TaxReport, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "owner must not be empty")
	}
	if start == "" {
		start = "0001-01-01"
	}
	if end == "" {
		end = "9999-12-31"
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "tax report canceled")
	}

	rows, err := s.allocations.ListForTaxReport(ownerID, start, end)
	if err != nil {
		return nil, err
	}

	report := &TaxReport{OwnerID: ownerID, Start: start, End: end}

	for _, row := range rows {
		days, err := domain.DaysBetween(row.AcquiredDate, row.SoldDate)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorage, err,
				"corrupt dates on allocation for %s", row.Symbol)
		}

		entry := TaxEntry{TaxReportRow: row, HoldingDays: days, LongTerm: days > 365}
		if entry.LongTerm {
			report.LongTermPnL = report.LongTermPnL.Add(row.RealizedPnL)
			report.LongCount++
		} else {
			report.ShortTermPnL = report.ShortTermPnL.Add(row.RealizedPnL)
			report.ShortCount++
		}
		report.TotalPnL = report.TotalPnL.Add(row.RealizedPnL)
		report.Entries = append(report.Entries, entry)
	}

	return report, nil
}

// Simulate runs the cost-basis matchers against the current open lots for a
// hypothetical sell and reports realized PnL per method, without writing
// anything. The specific-lot method needs a caller plan; pass nil to skip it.
func (s *Service) Simulate(ctx context.Context, ownerID, symbol string, quantity, price decimal.Decimal, specific []ledger.SpecificLot) (*Simulation, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(symbol) == "" {
		return nil, domain.NewError(domain.KindValidation, "owner and symbol must not be empty")
	}
	if !quantity.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, "quantity must be positive, got %s", quantity)
	}
	if price.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "price must not be negative, got %s", price)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "simulation canceled")
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	openLots, err := s.lots.GetOpenLots(ownerID, symbol)
	if err != nil {
		return nil, err
	}

	sim := &Simulation{OwnerID: ownerID, Symbol: symbol, Quantity: quantity, Price: price}

	methods := []domain.BasisMethod{domain.BasisFIFO, domain.BasisLIFO, domain.BasisAverage}
	if len(specific) > 0 {
		methods = append(methods, domain.BasisSpecific)
	}

	for _, method := range methods {
		outcome := MethodOutcome{Method: string(method)}

		plan, err := ledger.BuildAllocationPlan(method, openLots, quantity, specific)
		if err != nil {
			outcome.Error = err.Error()
			sim.Outcomes = append(sim.Outcomes, outcome)
			continue
		}

		for _, entry := range plan {
			outcome.RealizedPnL = outcome.RealizedPnL.Add(
				price.Sub(entry.Lot.CostBasisPerShare).Mul(entry.Quantity))
		}
		outcome.Plan = ledger.FormatPlan(plan)
		outcome.LotsTouched = len(plan)
		sim.Outcomes = append(sim.Outcomes, outcome)
	}

	return sim, nil
}

func selectPrice(bar *domain.PriceBar, source string) decimal.Decimal {
	if source == pnl.PriceSourceAdjClose && bar.AdjClose > 0 {
		return decimal.NewFromFloat(bar.AdjClose)
	}
	return decimal.NewFromFloat(bar.Close)
}
