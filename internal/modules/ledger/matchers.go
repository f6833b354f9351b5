package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/shopspring/decimal"
)

// PlanEntry assigns part of a sell quantity to one lot.
type PlanEntry struct {
	Lot      PositionLot
	Quantity decimal.Decimal
}

// BuildAllocationPlan produces the allocation plan for a sell: a list of
// (lot, quantity) entries summing exactly to quantity, with each lot
// appearing at most once. Pure function over the supplied lots;
// deterministic for identical inputs. The caller has already verified that
// total remaining covers the quantity.
func BuildAllocationPlan(method domain.BasisMethod, openLots []PositionLot, quantity decimal.Decimal, specific []SpecificLot) ([]PlanEntry, error) {
	switch method {
	case domain.BasisFIFO:
		return consumeInOrder(sortedLots(openLots, false), quantity)
	case domain.BasisLIFO:
		return consumeInOrder(sortedLots(openLots, true), quantity)
	case domain.BasisSpecific:
		return specificPlan(openLots, quantity, specific)
	case domain.BasisAverage:
		return averagePlan(sortedLots(openLots, false), quantity)
	default:
		return nil, domain.NewError(domain.KindValidation, "unknown basis method %q", method)
	}
}

// sortedLots orders lots by purchase date then id, reversed for LIFO.
// The input slice is not mutated.
func sortedLots(lots []PositionLot, newestFirst bool) []PositionLot {
	out := make([]PositionLot, len(lots))
	copy(out, lots)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PurchaseDate != out[j].PurchaseDate {
			if newestFirst {
				return out[i].PurchaseDate > out[j].PurchaseDate
			}
			return out[i].PurchaseDate < out[j].PurchaseDate
		}
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})

	return out
}

func consumeInOrder(lots []PositionLot, quantity decimal.Decimal) ([]PlanEntry, error) {
	plan := make([]PlanEntry, 0, len(lots))
	remaining := quantity

	for _, lot := range lots {
		if remaining.IsZero() {
			break
		}

		take := lot.RemainingQuantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if !take.IsPositive() {
			continue
		}

		plan = append(plan, PlanEntry{Lot: lot, Quantity: take})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, insufficient(lots, quantity)
	}

	return plan, nil
}

// specificPlan validates a caller-supplied plan against the open lots and
// preserves the caller's order. Entries must sum exactly to quantity.
// Repeated lot ids are merged into one entry, so every lot appears at most
// once in the plan and its update applies the combined quantity.
func specificPlan(openLots []PositionLot, quantity decimal.Decimal, specific []SpecificLot) ([]PlanEntry, error) {
	if len(specific) == 0 {
		return nil, domain.NewError(domain.KindValidation, "specific-lot sells require a lot plan")
	}

	byID := make(map[int64]PositionLot, len(openLots))
	for _, lot := range openLots {
		byID[lot.ID] = lot
	}

	planIdx := make(map[int64]int, len(specific))
	plan := make([]PlanEntry, 0, len(specific))
	total := decimal.Zero

	for _, entry := range specific {
		if !entry.Quantity.IsPositive() {
			return nil, domain.NewError(domain.KindValidation,
				"specific-lot quantity for lot %d must be positive, got %s", entry.LotID, entry.Quantity)
		}

		lot, ok := byID[entry.LotID]
		if !ok {
			return nil, domain.NewError(domain.KindValidation,
				"lot %d is not an open lot for this position", entry.LotID)
		}

		idx, seen := planIdx[entry.LotID]
		if !seen {
			idx = len(plan)
			planIdx[entry.LotID] = idx
			plan = append(plan, PlanEntry{Lot: lot})
		}

		used := plan[idx].Quantity.Add(entry.Quantity)
		if used.GreaterThan(lot.RemainingQuantity) {
			return nil, domain.NewError(domain.KindValidation,
				"lot %d has %s remaining, plan requests %s",
				entry.LotID, lot.RemainingQuantity, used)
		}
		plan[idx].Quantity = used

		total = total.Add(entry.Quantity)
	}

	if !total.Equal(quantity) {
		return nil, domain.NewError(domain.KindValidation,
			"specific-lot plan sums to %s but the sell quantity is %s", total, quantity)
	}

	return plan, nil
}

// averagePlan distributes the quantity pro-rata by remaining quantity so
// each lot's ledger stays intact while the position is treated as a single
// pooled holding. The last lot absorbs the division residue so the plan
// sums exactly.
func averagePlan(lots []PositionLot, quantity decimal.Decimal) ([]PlanEntry, error) {
	totalRemaining := decimal.Zero
	for _, lot := range lots {
		totalRemaining = totalRemaining.Add(lot.RemainingQuantity)
	}
	if totalRemaining.LessThan(quantity) {
		return nil, insufficient(lots, quantity)
	}

	plan := make([]PlanEntry, 0, len(lots))
	allocated := decimal.Zero

	for i, lot := range lots {
		var take decimal.Decimal
		if i == len(lots)-1 {
			take = quantity.Sub(allocated)
		} else {
			take = quantity.Mul(lot.RemainingQuantity).Div(totalRemaining)
		}

		if take.GreaterThan(lot.RemainingQuantity) {
			take = lot.RemainingQuantity
		}
		if !take.IsPositive() {
			continue
		}

		plan = append(plan, PlanEntry{Lot: lot, Quantity: take})
		allocated = allocated.Add(take)
	}

	// Residue left by per-lot capping trickles into earlier lots with room.
	if shortfall := quantity.Sub(allocated); shortfall.IsPositive() {
		for i := range plan {
			room := plan[i].Lot.RemainingQuantity.Sub(plan[i].Quantity)
			if !room.IsPositive() {
				continue
			}
			add := decimal.Min(room, shortfall)
			plan[i].Quantity = plan[i].Quantity.Add(add)
			shortfall = shortfall.Sub(add)
			if shortfall.IsZero() {
				break
			}
		}
		if shortfall.IsPositive() {
			return nil, insufficient(lots, quantity)
		}
	}

	return plan, nil
}

func insufficient(lots []PositionLot, required decimal.Decimal) error {
	available := decimal.Zero
	symbol := ""
	for _, lot := range lots {
		available = available.Add(lot.RemainingQuantity)
		symbol = lot.Symbol
	}
	return &domain.InsufficientSharesError{Symbol: symbol, Required: required, Available: available}
}

// ParseBasisMethod normalizes a user-supplied basis method string.
// Accepts common aliases; case-insensitive.
func ParseBasisMethod(s string) (domain.BasisMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return domain.BasisFIFO, nil
	case "lifo":
		return domain.BasisLIFO, nil
	case "specific", "specific_lot", "specificlot":
		return domain.BasisSpecific, nil
	case "average", "average_cost", "averagecost", "avg":
		return domain.BasisAverage, nil
	default:
		return "", domain.NewError(domain.KindValidation, "unknown basis method %q", s)
	}
}

// ParseSpecificLots parses the CLI plan syntax: comma-separated
// "lot=<id>:<qty>" pairs, e.g. "lot=3:40,lot=7:20".
func ParseSpecificLots(s string) ([]SpecificLot, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.NewError(domain.KindValidation, "specific-lot plan must not be empty")
	}

	parts := strings.Split(s, ",")
	out := make([]SpecificLot, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)

		body, ok := strings.CutPrefix(part, "lot=")
		if !ok {
			return nil, domain.NewError(domain.KindValidation,
				"malformed specific-lot entry %q, want lot=<id>:<qty>", part)
		}

		idStr, qtyStr, ok := strings.Cut(body, ":")
		if !ok {
			return nil, domain.NewError(domain.KindValidation,
				"malformed specific-lot entry %q, want lot=<id>:<qty>", part)
		}

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return nil, domain.NewError(domain.KindValidation,
				"invalid lot id in %q: %s", part, idStr)
		}

		qty, err := decimal.NewFromString(qtyStr)
		if err != nil || !qty.IsPositive() {
			return nil, domain.NewError(domain.KindValidation,
				"invalid quantity in %q: %s", part, qtyStr)
		}

		out = append(out, SpecificLot{LotID: id, Quantity: qty})
	}

	return out, nil
}

// FormatPlan renders a plan for logs and the simulate command.
func FormatPlan(plan []PlanEntry) string {
	parts := make([]string, 0, len(plan))
	for _, e := range plan {
		parts = append(parts, fmt.Sprintf("lot=%d:%s", e.Lot.ID, e.Quantity))
	}
	return strings.Join(parts, ",")
}
