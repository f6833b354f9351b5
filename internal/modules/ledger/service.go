package ledger

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service is the transactional core of the ledger. Buys and sells commit
// atomically: a sell either writes its transaction, every allocation, and
// every lot update, or nothing at all.
type Service struct {
	db           *sql.DB
	transactions *TransactionRepository
	lots         *LotRepository
	allocations  *AllocationRepository
	log          zerolog.Logger
}

// NewService creates a new ledger service.
func NewService(db *sql.DB, transactions *TransactionRepository, lots *LotRepository, allocations *AllocationRepository, log zerolog.Logger) *Service {
	return &Service{
		db:           db,
		transactions: transactions,
		lots:         lots,
		allocations:  allocations,
		log:          log.With().Str("service", "ledger").Logger(),
	}
}

// RecordBuy validates and commits a buy: one transaction row plus one new
// lot with cost basis price + commission/quantity. A repeated external id
// returns the already recorded buy instead of double-inserting.
func (s *Service) RecordBuy(ctx context.Context, req BuyRequest) (*Transaction, *PositionLot, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.WrapError(domain.KindCanceled, err, "buy canceled")
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	if req.ExternalID != "" {
		existing, lot, err := s.findExistingBuy(req.OwnerID, req.ExternalID)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			s.log.Debug().
				Str("owner", req.OwnerID).
				Str("external_id", req.ExternalID).
				Msg("Buy with external id already recorded, returning existing")
			return existing, lot, nil
		}
	}

	costBasis := req.Price
	if req.Commission.IsPositive() {
		costBasis = req.Price.Add(req.Commission.Div(req.Quantity))
	}

	txn := &Transaction{
		OwnerID:         req.OwnerID,
		Symbol:          req.Symbol,
		Kind:            domain.TransactionBuy,
		Quantity:        req.Quantity,
		Price:           req.Price,
		Commission:      req.Commission,
		TransactionDate: req.Date,
		ExternalID:      req.ExternalID,
		Notes:           req.Notes,
	}
	lot := &PositionLot{
		OwnerID:           req.OwnerID,
		Symbol:            req.Symbol,
		OriginalQuantity:  req.Quantity,
		RemainingQuantity: req.Quantity,
		CostBasisPerShare: costBasis,
		PurchaseDate:      req.Date,
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		txnID, err := s.transactions.Insert(tx, txn)
		if err != nil {
			return err
		}
		txn.ID = txnID
		lot.BuyTransactionID = txnID

		lotID, err := s.lots.Insert(tx, lot)
		if err != nil {
			return err
		}
		lot.ID = lotID
		return nil
	})
	if err != nil {
		// A concurrent writer may have landed the same external id first.
		if req.ExternalID != "" && domain.KindOf(err) == domain.KindConstraint {
			existing, lotRow, lookupErr := s.findExistingBuy(req.OwnerID, req.ExternalID)
			if lookupErr == nil && existing != nil {
				return existing, lotRow, nil
			}
		}
		return nil, nil, err
	}

	s.log.Info().
		Str("owner", req.OwnerID).
		Str("symbol", req.Symbol).
		Str("quantity", req.Quantity.String()).
		Str("price", req.Price.String()).
		Int64("lot_id", lot.ID).
		Msg("Buy recorded")

	return txn, lot, nil
}

// RecordSell validates and commits a sell: allocation plan from the chosen
// matcher, one transaction row, one allocation row per consumed lot, and
// the matching lot updates, all in one database transaction.
func (s *Service) RecordSell(ctx context.Context, req SellRequest) (*Transaction, []SaleAllocation, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.WrapError(domain.KindCanceled, err, "sell canceled")
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	if req.ExternalID != "" {
		existing, allocs, err := s.findExistingSell(req.OwnerID, req.ExternalID)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			s.log.Debug().
				Str("owner", req.OwnerID).
				Str("external_id", req.ExternalID).
				Msg("Sell with external id already recorded, returning existing")
			return existing, allocs, nil
		}
	}

	openLots, err := s.lots.GetOpenLots(req.OwnerID, req.Symbol)
	if err != nil {
		return nil, nil, err
	}

	available := decimal.Zero
	for _, lot := range openLots {
		available = available.Add(lot.RemainingQuantity)
	}
	if available.LessThan(req.Quantity) {
		return nil, nil, &domain.InsufficientSharesError{
			Symbol:    req.Symbol,
			Required:  req.Quantity,
			Available: available,
		}
	}

	plan, err := BuildAllocationPlan(req.Basis, openLots, req.Quantity, req.SpecificLots)
	if err != nil {
		return nil, nil, err
	}

	txn := &Transaction{
		OwnerID:         req.OwnerID,
		Symbol:          req.Symbol,
		Kind:            domain.TransactionSell,
		Quantity:        req.Quantity,
		Price:           req.Price,
		Commission:      req.Commission,
		TransactionDate: req.Date,
		ExternalID:      req.ExternalID,
		Notes:           req.Notes,
	}

	allocations := make([]SaleAllocation, 0, len(plan))

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		txnID, err := s.transactions.Insert(tx, txn)
		if err != nil {
			return err
		}
		txn.ID = txnID

		for _, entry := range plan {
			// Commission is amortized across the plan pro-rata by quantity
			commissionShare := decimal.Zero
			if req.Commission.IsPositive() {
				commissionShare = req.Commission.Mul(entry.Quantity).Div(req.Quantity)
			}
			realized := req.Price.Sub(entry.Lot.CostBasisPerShare).
				Mul(entry.Quantity).
				Sub(commissionShare)

			alloc := SaleAllocation{
				OwnerID:           req.OwnerID,
				SellTransactionID: txnID,
				LotID:             entry.Lot.ID,
				QuantitySold:      entry.Quantity,
				CostBasisPerShare: entry.Lot.CostBasisPerShare,
				SalePricePerShare: req.Price,
				RealizedPnL:       realized,
			}
			allocID, err := s.allocations.Insert(tx, &alloc)
			if err != nil {
				return err
			}
			alloc.ID = allocID

			newRemaining := entry.Lot.RemainingQuantity.Sub(entry.Quantity)
			if err := s.lots.UpdateRemaining(tx, entry.Lot.ID, newRemaining, newRemaining.IsZero()); err != nil {
				return err
			}

			allocations = append(allocations, alloc)
		}

		return nil
	})
	if err != nil {
		if req.ExternalID != "" && domain.KindOf(err) == domain.KindConstraint {
			existing, allocs, lookupErr := s.findExistingSell(req.OwnerID, req.ExternalID)
			if lookupErr == nil && existing != nil {
				return existing, allocs, nil
			}
		}
		return nil, nil, err
	}

	totalRealized := decimal.Zero
	for _, a := range allocations {
		totalRealized = totalRealized.Add(a.RealizedPnL)
	}

	s.log.Info().
		Str("owner", req.OwnerID).
		Str("symbol", req.Symbol).
		Str("quantity", req.Quantity.String()).
		Str("basis", string(req.Basis)).
		Int("lots_touched", len(allocations)).
		Str("realized_pnl", totalRealized.String()).
		Msg("Sell recorded")

	return txn, allocations, nil
}

func (s *Service) findExistingBuy(ownerID, externalID string) (*Transaction, *PositionLot, error) {
	existing, err := s.transactions.GetByExternalID(ownerID, externalID)
	if err != nil || existing == nil {
		return nil, nil, err
	}
	if existing.Kind != domain.TransactionBuy {
		return nil, nil, domain.NewError(domain.KindDuplicate,
			"external id %q already used by a %s transaction", externalID, existing.Kind)
	}

	lot, err := s.lots.GetByBuyTransaction(existing.ID)
	if err != nil {
		return nil, nil, err
	}
	return existing, lot, nil
}

func (s *Service) findExistingSell(ownerID, externalID string) (*Transaction, []SaleAllocation, error) {
	existing, err := s.transactions.GetByExternalID(ownerID, externalID)
	if err != nil || existing == nil {
		return nil, nil, err
	}
	if existing.Kind != domain.TransactionSell {
		return nil, nil, domain.NewError(domain.KindDuplicate,
			"external id %q already used by a %s transaction", externalID, existing.Kind)
	}

	allocs, err := s.allocations.ListBySellTransaction(existing.ID)
	if err != nil {
		return nil, nil, err
	}
	return existing, allocs, nil
}

// GetOpenLots returns the owner's open lots for a symbol, oldest first.
func (s *Service) GetOpenLots(ownerID, symbol string) ([]PositionLot, error) {
	return s.lots.GetOpenLots(ownerID, symbol)
}

// GetLots returns the owner's lots including closed ones.
func (s *Service) GetLots(ownerID, symbol string) ([]PositionLot, error) {
	return s.lots.List(ownerID, symbol)
}

// GetAllocations returns the owner's sale allocations, newest sale first.
func (s *Service) GetAllocations(ownerID, symbol string) ([]SaleAllocation, error) {
	return s.allocations.ListByOwner(ownerID, symbol)
}

// ListTransactions returns the owner's transactions, newest first.
func (s *Service) ListTransactions(ownerID, symbol string, kind domain.TransactionKind, limit int) ([]Transaction, error) {
	return s.transactions.List(ownerID, symbol, kind, limit)
}

// GetPositionSummary aggregates the owner's open lots per symbol.
func (s *Service) GetPositionSummary(ownerID string) ([]PositionSummary, error) {
	lots, err := s.lots.List(ownerID, "")
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]*PositionSummary)
	var order []string

	for _, lot := range lots {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}

		summary, ok := bySymbol[lot.Symbol]
		if !ok {
			summary = &PositionSummary{Symbol: lot.Symbol, FirstBuyDate: lot.PurchaseDate}
			bySymbol[lot.Symbol] = summary
			order = append(order, lot.Symbol)
		}

		summary.Quantity = summary.Quantity.Add(lot.RemainingQuantity)
		summary.TotalCost = summary.TotalCost.Add(lot.CostBasisPerShare.Mul(lot.RemainingQuantity))
		summary.LotCount++
		if lot.PurchaseDate < summary.FirstBuyDate {
			summary.FirstBuyDate = lot.PurchaseDate
		}
	}

	sort.Strings(order)

	out := make([]PositionSummary, 0, len(order))
	for _, symbol := range order {
		summary := bySymbol[symbol]
		if summary.Quantity.IsPositive() {
			summary.WeightedAvgCost = summary.TotalCost.Div(summary.Quantity)
		}
		out = append(out, *summary)
	}

	return out, nil
}
