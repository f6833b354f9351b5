// Package ledger is the lot-based transaction engine: buys create
// independently tracked lots, sells allocate shares to lots under a
// selectable cost-basis method, and every allocation carries its own
// realized PnL.
package ledger

import (
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable row of the transactions table.
type Transaction struct {
	ID              int64                  `json:"id"`
	OwnerID         string                 `json:"owner_id"`
	Symbol          string                 `json:"symbol"`
	Kind            domain.TransactionKind `json:"kind"`
	Quantity        decimal.Decimal        `json:"quantity"`
	Price           decimal.Decimal        `json:"price"`
	Commission      decimal.Decimal        `json:"commission"`
	TransactionDate string                 `json:"transaction_date"`
	ExternalID      string                 `json:"external_id,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	CreatedAt       string                 `json:"created_at,omitempty"`
}

// GrossAmount is quantity x price, before commission.
func (t Transaction) GrossAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// PositionLot is the shares acquired by one buy, tracked until fully sold.
// The row is never deleted; is_closed toggles when remaining reaches zero.
type PositionLot struct {
	ID                int64           `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Symbol            string          `json:"symbol"`
	BuyTransactionID  int64           `json:"buy_transaction_id"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	CostBasisPerShare decimal.Decimal `json:"cost_basis_per_share"`
	PurchaseDate      string          `json:"purchase_date"`
	IsClosed          bool            `json:"is_closed"`
	CreatedAt         string          `json:"created_at,omitempty"`
	UpdatedAt         string          `json:"updated_at,omitempty"`
}

// SaleAllocation binds a portion of a sell to a specific lot. Append-only.
type SaleAllocation struct {
	ID                int64           `json:"id"`
	OwnerID           string          `json:"owner_id"`
	SellTransactionID int64           `json:"sell_transaction_id"`
	LotID             int64           `json:"lot_id"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	CostBasisPerShare decimal.Decimal `json:"cost_basis_per_share"`
	SalePricePerShare decimal.Decimal `json:"sale_price_per_share"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	CreatedAt         string          `json:"created_at,omitempty"`
}

// BuyRequest is the input to RecordBuy.
type BuyRequest struct {
	OwnerID    string
	Symbol     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Date       string
	ExternalID string
	Notes      string
}

// SellRequest is the input to RecordSell.
type SellRequest struct {
	OwnerID      string
	Symbol       string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Commission   decimal.Decimal
	Date         string
	Basis        domain.BasisMethod
	SpecificLots []SpecificLot // Required when Basis is specific
	ExternalID   string
	Notes        string
}

// SpecificLot is one caller-chosen entry of a specific-lot sell plan.
type SpecificLot struct {
	LotID    int64
	Quantity decimal.Decimal
}

// PositionSummary aggregates the open lots of one symbol.
type PositionSummary struct {
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"quantity"`
	WeightedAvgCost decimal.Decimal `json:"weighted_avg_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	LotCount        int             `json:"lot_count"`
	FirstBuyDate    string          `json:"first_buy_date"`
}

func validateCommon(ownerID, symbol string, quantity, price, commission decimal.Decimal, date string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.NewError(domain.KindValidation, "owner must not be empty")
	}
	if strings.TrimSpace(symbol) == "" {
		return domain.NewError(domain.KindValidation, "symbol must not be empty")
	}
	if !quantity.IsPositive() {
		return domain.NewError(domain.KindValidation, "quantity must be positive, got %s", quantity)
	}
	if price.IsNegative() {
		return domain.NewError(domain.KindValidation, "price must not be negative, got %s", price)
	}
	if commission.IsNegative() {
		return domain.NewError(domain.KindValidation, "commission must not be negative, got %s", commission)
	}
	if !domain.ValidDate(date) {
		return domain.NewError(domain.KindValidation, "date must be YYYY-MM-DD, got %q", date)
	}
	return nil
}

// Validate checks a buy request before any write.
func (r BuyRequest) Validate() error {
	return validateCommon(r.OwnerID, r.Symbol, r.Quantity, r.Price, r.Commission, r.Date)
}

// Validate checks a sell request before any write.
func (r SellRequest) Validate() error {
	if err := validateCommon(r.OwnerID, r.Symbol, r.Quantity, r.Price, r.Commission, r.Date); err != nil {
		return err
	}
	switch r.Basis {
	case domain.BasisFIFO, domain.BasisLIFO, domain.BasisAverage:
		// no plan expected
	case domain.BasisSpecific:
		if len(r.SpecificLots) == 0 {
			return domain.NewError(domain.KindValidation, "specific-lot sells require a lot plan")
		}
	default:
		return domain.NewError(domain.KindValidation, "unknown basis method %q", r.Basis)
	}
	return nil
}
