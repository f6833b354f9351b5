package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/shopspring/decimal"
)

// Verify re-derives the ledger invariants straight from the tables and
// reports every violation. Sums are computed in decimal, not SQL, so TEXT
// quantities keep their exactness.
//
// Checks: lot conservation (original = remaining + sold), closed flag
// consistency, remaining within [0, original], sell closure (allocations
// sum to the sell quantity), and external-id uniqueness.
func (s *Service) Verify(ctx context.Context, ownerID string) (*VerifyReport, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "owner must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "verify canceled")
	}

	report := &VerifyReport{OwnerID: ownerID}

	soldByLot, soldBySell, err := s.sumAllocations(ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.verifyLots(ownerID, soldByLot, report); err != nil {
		return nil, err
	}
	if err := s.verifySells(ownerID, soldBySell, report); err != nil {
		return nil, err
	}
	if err := s.verifyExternalIDs(ownerID, report); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("owner", ownerID).
		Int("lots", report.LotsChecked).
		Int("sells", report.SellsChecked).
		Int("violations", len(report.Violations)).
		Msg("Ledger verification finished")

	return report, nil
}

func (s *Service) sumAllocations(ownerID string) (byLot, bySell map[int64]decimal.Decimal, err error) {
	rows, err := s.db.Query(`
		SELECT lot_id, sell_transaction_id, quantity_sold
		FROM sale_allocations WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, nil, domain.WrapError(domain.KindStorage, err, "failed to query allocations")
	}
	defer rows.Close()

	byLot = make(map[int64]decimal.Decimal)
	bySell = make(map[int64]decimal.Decimal)

	for rows.Next() {
		var lotID, sellID int64
		var raw string
		if err := rows.Scan(&lotID, &sellID, &raw); err != nil {
			return nil, nil, domain.WrapError(domain.KindStorage, err, "failed to scan allocation")
		}
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, nil, domain.WrapError(domain.KindStorage, err, "corrupt quantity on allocation")
		}
		byLot[lotID] = byLot[lotID].Add(qty)
		bySell[sellID] = bySell[sellID].Add(qty)
	}

	return byLot, bySell, rows.Err()
}

func (s *Service) verifyLots(ownerID string, soldByLot map[int64]decimal.Decimal, report *VerifyReport) error {
	rows, err := s.db.Query(`
		SELECT id, symbol, original_quantity, remaining_quantity, is_closed
		FROM position_lots WHERE owner_id = ?`, ownerID)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to query lots")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var symbol, originalRaw, remainingRaw string
		var closed int
		if err := rows.Scan(&id, &symbol, &originalRaw, &remainingRaw, &closed); err != nil {
			return domain.WrapError(domain.KindStorage, err, "failed to scan lot")
		}

		original, err := decimal.NewFromString(originalRaw)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				Check:  "decimal_integrity",
				Detail: fmt.Sprintf("lot %d (%s): unparseable original_quantity %q", id, symbol, originalRaw),
			})
			continue
		}
		remaining, err := decimal.NewFromString(remainingRaw)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				Check:  "decimal_integrity",
				Detail: fmt.Sprintf("lot %d (%s): unparseable remaining_quantity %q", id, symbol, remainingRaw),
			})
			continue
		}

		report.LotsChecked++

		if remaining.IsNegative() {
			report.Violations = append(report.Violations, Violation{
				Check:  "non_negative_remaining",
				Detail: fmt.Sprintf("lot %d (%s): remaining %s is negative", id, symbol, remaining),
			})
		}
		if remaining.GreaterThan(original) {
			report.Violations = append(report.Violations, Violation{
				Check:  "remaining_within_original",
				Detail: fmt.Sprintf("lot %d (%s): remaining %s exceeds original %s", id, symbol, remaining, original),
			})
		}

		expected := original.Sub(soldByLot[id])
		if !remaining.Equal(expected) {
			report.Violations = append(report.Violations, Violation{
				Check: "lot_conservation",
				Detail: fmt.Sprintf("lot %d (%s): remaining %s, but original %s minus sold %s is %s",
					id, symbol, remaining, original, soldByLot[id], expected),
			})
		}

		if (closed != 0) != remaining.IsZero() {
			report.Violations = append(report.Violations, Violation{
				Check:  "closed_flag",
				Detail: fmt.Sprintf("lot %d (%s): is_closed=%d with remaining %s", id, symbol, closed, remaining),
			})
		}
	}

	return rows.Err()
}

func (s *Service) verifySells(ownerID string, soldBySell map[int64]decimal.Decimal, report *VerifyReport) error {
	rows, err := s.db.Query(`
		SELECT id, symbol, quantity FROM transactions
		WHERE owner_id = ? AND kind = ?`, ownerID, string(domain.TransactionSell))
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to query sell transactions")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var symbol, quantityRaw string
		if err := rows.Scan(&id, &symbol, &quantityRaw); err != nil {
			return domain.WrapError(domain.KindStorage, err, "failed to scan sell transaction")
		}

		quantity, err := decimal.NewFromString(quantityRaw)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				Check:  "decimal_integrity",
				Detail: fmt.Sprintf("sell %d (%s): unparseable quantity %q", id, symbol, quantityRaw),
			})
			continue
		}

		report.SellsChecked++

		if !soldBySell[id].Equal(quantity) {
			report.Violations = append(report.Violations, Violation{
				Check: "sell_closure",
				Detail: fmt.Sprintf("sell %d (%s): allocations sum to %s, transaction quantity is %s",
					id, symbol, soldBySell[id], quantity),
			})
		}
	}

	return rows.Err()
}

func (s *Service) verifyExternalIDs(ownerID string, report *VerifyReport) error {
	rows, err := s.db.Query(`
		SELECT external_id, COUNT(*) FROM transactions
		WHERE owner_id = ? AND external_id IS NOT NULL AND external_id != ''
		GROUP BY external_id HAVING COUNT(*) > 1`, ownerID)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to query external ids")
	}
	defer rows.Close()

	for rows.Next() {
		var externalID string
		var count int
		if err := rows.Scan(&externalID, &count); err != nil {
			return domain.WrapError(domain.KindStorage, err, "failed to scan external id")
		}
		report.Violations = append(report.Violations, Violation{
			Check:  "external_id_uniqueness",
			Detail: fmt.Sprintf("external id %q appears %d times", externalID, count),
		})
	}

	return rows.Err()
}
