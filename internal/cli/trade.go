package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
)

func newTradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Record and inspect portfolio transactions",
	}

	cmd.AddCommand(newTradeBuyCmd())
	cmd.AddCommand(newTradeSellCmd())
	cmd.AddCommand(newTradePositionsCmd())
	cmd.AddCommand(newTradeLotsCmd())
	cmd.AddCommand(newTradeSalesCmd())
	cmd.AddCommand(newTradeCalculatePnLCmd())
	cmd.AddCommand(newTradeBatchCalculateCmd())
	cmd.AddCommand(newTradeDailyCmd())
	cmd.AddCommand(newTradePortfolioCmd())
	cmd.AddCommand(newTradePerformanceCmd())
	cmd.AddCommand(newTradeTaxReportCmd())
	cmd.AddCommand(newTradeSimulateCmd())
	cmd.AddCommand(newTradeVerifyCmd())

	return cmd
}

// parseDecimal converts a flag value into a decimal with a validation
// error naming the flag on failure.
func parseDecimal(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, domain.NewError(domain.KindValidation, "--%s is required", name)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, domain.NewError(domain.KindValidation, "--%s must be a number, got %q", name, value)
	}
	return d, nil
}

type tradeFlags struct {
	owner      string
	symbol     string
	quantity   string
	price      string
	commission string
	date       string
	externalID string
	notes      string
}

func (f *tradeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVarP(&f.symbol, "symbol", "s", "", "symbol (required)")
	cmd.Flags().StringVarP(&f.quantity, "quantity", "q", "", "number of shares (required)")
	cmd.Flags().StringVarP(&f.price, "price", "p", "", "price per share (required)")
	cmd.Flags().StringVar(&f.commission, "commission", "0", "commission for the whole transaction")
	cmd.Flags().StringVarP(&f.date, "date", "d", "", "transaction date, default today (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.externalID, "external-id", "", "idempotence key from an external system")
	cmd.Flags().StringVar(&f.notes, "notes", "", "free-form note")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("price")
}

func (f *tradeFlags) amounts() (quantity, price, commission decimal.Decimal, err error) {
	if quantity, err = parseDecimal("quantity", f.quantity); err != nil {
		return
	}
	if price, err = parseDecimal("price", f.price); err != nil {
		return
	}
	commission, err = parseDecimal("commission", f.commission)
	return
}

func (f *tradeFlags) effectiveDate() string {
	if f.date == "" {
		return domain.Today()
	}
	return f.date
}

func newTradeBuyCmd() *cobra.Command {
	var flags tradeFlags

	cmd := &cobra.Command{
		Use:     "buy",
		Short:   "Record a purchase and open a new lot",
		Example: `  purser trade buy --owner alice -s AAPL -q 100 -p 150.25 -d 2024-01-15 --commission 1.50`,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			quantity, price, commission, err := flags.amounts()
			if err != nil {
				return err
			}

			txn, lot, err := a.ledger.RecordBuy(cmd.Context(), ledger.BuyRequest{
				OwnerID:    flags.owner,
				Symbol:     flags.symbol,
				Quantity:   quantity,
				Price:      price,
				Commission: commission,
				Date:       flags.effectiveDate(),
				ExternalID: flags.externalID,
				Notes:      flags.notes,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Recorded buy #%d: %s %s @ %s on %s (lot #%d, basis %s/share)\n",
				txn.ID, txn.Quantity, txn.Symbol, txn.Price, txn.TransactionDate,
				lot.ID, lot.CostBasisPerShare)
			return nil
		}),
	}

	flags.register(cmd)
	return cmd
}

func newTradeSellCmd() *cobra.Command {
	var (
		flags        tradeFlags
		basis        string
		specificLots string
	)

	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Record a sale, matching shares against open lots",
		Example: `  purser trade sell --owner alice -s AAPL -q 50 -p 175 --basis fifo
  purser trade sell --owner alice -s AAPL -q 60 -p 175 --basis specific --specific-lots "lot=1:40,lot=2:20"`,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			quantity, price, commission, err := flags.amounts()
			if err != nil {
				return err
			}

			method, err := ledger.ParseBasisMethod(basis)
			if err != nil {
				return err
			}

			var specific []ledger.SpecificLot
			if method == domain.BasisSpecific {
				if specific, err = ledger.ParseSpecificLots(specificLots); err != nil {
					return err
				}
			}

			txn, allocations, err := a.ledger.RecordSell(cmd.Context(), ledger.SellRequest{
				OwnerID:      flags.owner,
				Symbol:       flags.symbol,
				Quantity:     quantity,
				Price:        price,
				Commission:   commission,
				Date:         flags.effectiveDate(),
				Basis:        method,
				SpecificLots: specific,
				ExternalID:   flags.externalID,
				Notes:        flags.notes,
			})
			if err != nil {
				return err
			}

			realized := decimal.Zero
			rows := [][]string{{"LOT", "QTY", "BASIS/SH", "SALE/SH", "REALIZED"}}
			for _, alloc := range allocations {
				realized = realized.Add(alloc.RealizedPnL)
				rows = append(rows, []string{
					strconv.FormatInt(alloc.LotID, 10),
					alloc.QuantitySold.String(),
					alloc.CostBasisPerShare.String(),
					alloc.SalePricePerShare.String(),
					alloc.RealizedPnL.String(),
				})
			}

			fmt.Printf("Recorded sell #%d: %s %s @ %s on %s (%s)\n",
				txn.ID, txn.Quantity, txn.Symbol, txn.Price, txn.TransactionDate, method)
			table(rows)
			fmt.Printf("\nRealized PnL: %s\n", realized)
			return nil
		}),
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&basis, "basis", "fifo", "cost basis method: fifo, lifo, specific or average")
	cmd.Flags().StringVar(&specificLots, "specific-lots", "", `lot plan for --basis specific, e.g. "lot=1:40,lot=2:20"`)

	return cmd
}

func newTradePositionsCmd() *cobra.Command {
	var (
		owner  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show current holdings aggregated from open lots",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			positions, err := a.ledger.GetPositionSummary(owner)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(positions)
			}
			if len(positions) == 0 {
				fmt.Println("No open positions.")
				return nil
			}

			rows := [][]string{{"SYMBOL", "QTY", "AVG COST", "TOTAL COST", "LOTS", "FIRST BUY"}}
			for _, p := range positions {
				rows = append(rows, []string{p.Symbol, p.Quantity.String(),
					p.WeightedAvgCost.StringFixed(4), p.TotalCost.StringFixed(2),
					strconv.Itoa(p.LotCount), p.FirstBuyDate})
			}
			table(rows)
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTradeLotsCmd() *cobra.Command {
	var (
		owner  string
		symbol string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "lots",
		Short: "List purchase lots, open and closed",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			lots, err := a.ledger.GetLots(owner, symbol)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(lots)
			}
			if len(lots) == 0 {
				fmt.Println("No lots.")
				return nil
			}

			rows := [][]string{{"LOT", "SYMBOL", "BOUGHT", "ORIGINAL", "REMAINING", "BASIS/SH", "STATE"}}
			for _, lot := range lots {
				state := "open"
				if lot.IsClosed {
					state = "closed"
				}
				rows = append(rows, []string{
					strconv.FormatInt(lot.ID, 10), lot.Symbol, lot.PurchaseDate,
					lot.OriginalQuantity.String(), lot.RemainingQuantity.String(),
					lot.CostBasisPerShare.StringFixed(4), state,
				})
			}
			table(rows)
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTradeSalesCmd() *cobra.Command {
	var (
		owner  string
		symbol string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sales",
		Short: "List sale allocations with realized PnL per lot",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			allocations, err := a.ledger.GetAllocations(owner, symbol)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(allocations)
			}
			if len(allocations) == 0 {
				fmt.Println("No sales.")
				return nil
			}

			total := decimal.Zero
			rows := [][]string{{"SELL", "LOT", "QTY", "BASIS/SH", "SALE/SH", "REALIZED"}}
			for _, alloc := range allocations {
				total = total.Add(alloc.RealizedPnL)
				rows = append(rows, []string{
					strconv.FormatInt(alloc.SellTransactionID, 10),
					strconv.FormatInt(alloc.LotID, 10),
					alloc.QuantitySold.String(),
					alloc.CostBasisPerShare.StringFixed(4),
					alloc.SalePricePerShare.String(),
					alloc.RealizedPnL.StringFixed(2),
				})
			}
			table(rows)
			fmt.Printf("\nTotal realized PnL: %s\n", total.StringFixed(2))
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
