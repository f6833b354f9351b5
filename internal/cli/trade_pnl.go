package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/pnl"
)

func newTradeCalculatePnLCmd() *cobra.Command {
	var (
		owner       string
		date        string
		symbols     []string
		priceSource string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "calculate-pnl",
		Short: "Compute and store the daily valuation for one date",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if !domain.ValidDate(date) {
				return domain.NewError(domain.KindValidation, "--date must be YYYY-MM-DD, got %q", date)
			}

			results, err := a.calculator(priceSource).ComputeDate(cmd.Context(), owner, date, symbols)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(results)
			}

			return printSymbolResults(date, results)
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&date, "date", "", "valuation date (required, YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to value (default: every symbol with open lots)")
	cmd.Flags().StringVar(&priceSource, "price-source", "", "close or adj_close (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// printSymbolResults prints per-symbol valuation rows and maps failures
// onto the partial/failure exit codes.
func printSymbolResults(date string, results []pnl.SymbolResult) error {
	if len(results) == 0 {
		fmt.Println("No positions to value.")
		return nil
	}

	failed := 0
	rows := [][]string{{"SYMBOL", "QTY", "PRICE", "VALUE", "UNREALIZED", "REALIZED", "NOTE"}}
	for _, result := range results {
		if result.Error != "" {
			failed++
			rows = append(rows, []string{result.Symbol, "", "", "", "", "", result.Error})
			continue
		}

		row := result.Row
		note := ""
		if row.IsStalePrice {
			note = "stale price from " + row.PriceDate
		}
		rows = append(rows, []string{
			row.Symbol,
			row.Quantity.String(),
			row.MarketPrice.StringFixed(2),
			row.MarketValue.StringFixed(2),
			row.UnrealizedPnL.StringFixed(2),
			row.RealizedPnLDay.StringFixed(2),
			note,
		})
	}
	table(rows)
	fmt.Printf("\n%s: %d of %d symbols valued\n", date, len(results)-failed, len(results))

	switch {
	case failed == 0:
		return nil
	case failed == len(results):
		return fmt.Errorf("valuation failed for all %d symbols", failed)
	default:
		return errPartial("valuation failed for %d of %d symbols", failed, len(results))
	}
}

func newTradeBatchCalculateCmd() *cobra.Command {
	var (
		owner           string
		start           string
		end             string
		onlyTradingDays bool
		symbols         []string
		asJSON          bool
	)

	cmd := &cobra.Command{
		Use:   "batch-calculate",
		Short: "Compute daily valuations over a date range",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			summary, err := a.calculator("").Batch(cmd.Context(), owner, start, end, onlyTradingDays, symbols)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(summary); err != nil {
					return err
				}
			} else {
				fmt.Printf("Computed %s..%s: %d days, %d rows written, %d failures\n",
					summary.Start, summary.End, summary.DaysProcessed, summary.RowsWritten, len(summary.Failures))
				for _, failure := range summary.Failures {
					fmt.Printf("  %s %s: %s\n", failure.Date, failure.Symbol, failure.Error)
				}
			}

			switch {
			case len(summary.Failures) == 0:
				return nil
			case summary.Partial():
				return errPartial("%d (date, symbol) pairs failed", len(summary.Failures))
			default:
				return fmt.Errorf("batch wrote no rows, %d failures", len(summary.Failures))
			}
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&start, "start", "", "first date, inclusive (required)")
	cmd.Flags().StringVar(&end, "end", "", "last date, inclusive (required)")
	cmd.Flags().BoolVar(&onlyTradingDays, "only-trading-days", false, "compute only dates present in the price history")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to value (default: every symbol with open lots)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newTradeDailyCmd() *cobra.Command {
	var (
		owner       string
		priceSource string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Compute today's valuation for every held symbol",
		Long:  "Cron-friendly: values every symbol the owner currently holds at today's date.",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			today := domain.Today()
			results, err := a.calculator(priceSource).ComputeDate(cmd.Context(), owner, today, nil)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(results)
			}
			return printSymbolResults(today, results)
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&priceSource, "price-source", "", "close or adj_close (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTradePortfolioCmd() *cobra.Command {
	var (
		owner  string
		asOf   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show the portfolio valued at a date",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if asOf != "" && !domain.ValidDate(asOf) {
				return domain.NewError(domain.KindValidation, "--as-of must be YYYY-MM-DD, got %q", asOf)
			}

			summary, err := a.portfolio.Summary(cmd.Context(), owner, asOf)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(summary)
			}

			rows := [][]string{{"SYMBOL", "QTY", "AVG COST", "PRICE", "VALUE", "UNREALIZED", "%", "NOTE"}}
			for _, p := range summary.Positions {
				note := p.Note
				if p.StalePrice && note == "" {
					note = "price from " + p.PriceDate
				}
				rows = append(rows, []string{
					p.Symbol, p.Quantity.String(), p.WeightedAvgCost.StringFixed(4),
					p.MarketPrice.StringFixed(2), p.MarketValue.StringFixed(2),
					p.UnrealizedPnL.StringFixed(2), p.UnrealizedPnLPct.StringFixed(2), note,
				})
			}
			table(rows)
			fmt.Printf("\nAs of %s: cost %s, value %s, unrealized %s (%s%%)\n",
				summary.AsOf, summary.TotalCost.StringFixed(2), summary.MarketValue.StringFixed(2),
				summary.UnrealizedPnL.StringFixed(2), summary.UnrealizedPnLPct.StringFixed(2))
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "valuation date, default today (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTradePerformanceCmd() *cobra.Command {
	var (
		owner  string
		start  string
		end    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Summarize stored daily valuations over a date range",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			perf, err := a.portfolio.Performance(cmd.Context(), owner, start, end)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(perf)
			}

			fmt.Printf("Performance %s..%s (%d days)\n", perf.Start, perf.End, perf.Days)
			fmt.Printf("  Start value:    %s\n", perf.StartValue.StringFixed(2))
			fmt.Printf("  End value:      %s\n", perf.EndValue.StringFixed(2))
			fmt.Printf("  Return:         %s%%\n", perf.ReturnPct.StringFixed(2))
			fmt.Printf("  Realized PnL:   %s\n", perf.RealizedPnL.StringFixed(2))
			fmt.Printf("  Unrealized PnL: %s\n", perf.UnrealizedPnL.StringFixed(2))
			fmt.Printf("  PnL vs cost:    %s%%\n", perf.PnLVsCostPct.StringFixed(2))
			fmt.Printf("  Max drawdown:   %s%%\n", perf.MaxDrawdownPct.StringFixed(2))
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&start, "start", "", "first date, inclusive (required)")
	cmd.Flags().StringVar(&end, "end", "", "last date, inclusive (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newTradeTaxReportCmd() *cobra.Command {
	var (
		owner  string
		start  string
		end    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tax-report",
		Short: "Realized gains split into short- and long-term holdings",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			report, err := a.portfolio.TaxReport(cmd.Context(), owner, start, end)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(report)
			}

			rows := [][]string{{"SYMBOL", "ACQUIRED", "SOLD", "QTY", "PROCEEDS", "BASIS", "PNL", "TERM"}}
			for _, entry := range report.Entries {
				term := "short"
				if entry.LongTerm {
					term = "long"
				}
				rows = append(rows, []string{
					entry.Symbol, entry.AcquiredDate, entry.SoldDate,
					entry.Quantity.String(), entry.Proceeds.StringFixed(2),
					entry.CostBasis.StringFixed(2), entry.RealizedPnL.StringFixed(2), term,
				})
			}
			table(rows)
			fmt.Printf("\nShort-term: %s (%d sales), long-term: %s (%d sales), total: %s\n",
				report.ShortTermPnL.StringFixed(2), report.ShortCount,
				report.LongTermPnL.StringFixed(2), report.LongCount,
				report.TotalPnL.StringFixed(2))
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&start, "start", "", "first sale date, inclusive")
	cmd.Flags().StringVar(&end, "end", "", "last sale date, inclusive")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTradeSimulateCmd() *cobra.Command {
	var (
		owner        string
		symbol       string
		quantity     string
		price        string
		specificLots string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare cost-basis methods for a hypothetical sell",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			qty, err := parseDecimal("quantity", quantity)
			if err != nil {
				return err
			}
			px, err := parseDecimal("price", price)
			if err != nil {
				return err
			}

			var specific []ledger.SpecificLot
			if specificLots != "" {
				if specific, err = ledger.ParseSpecificLots(specificLots); err != nil {
					return err
				}
			}

			sim, err := a.portfolio.Simulate(cmd.Context(), owner, symbol, qty, px, specific)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(sim)
			}

			fmt.Printf("Selling %s %s @ %s:\n", sim.Quantity, sim.Symbol, sim.Price)
			rows := [][]string{{"METHOD", "REALIZED", "LOTS", "PLAN"}}
			for _, outcome := range sim.Outcomes {
				if outcome.Error != "" {
					rows = append(rows, []string{outcome.Method, "-", "-", outcome.Error})
					continue
				}
				rows = append(rows, []string{outcome.Method, outcome.RealizedPnL.StringFixed(2),
					strconv.Itoa(outcome.LotsTouched), outcome.Plan})
			}
			table(rows)
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol (required)")
	cmd.Flags().StringVarP(&quantity, "quantity", "q", "", "number of shares (required)")
	cmd.Flags().StringVarP(&price, "price", "p", "", "hypothetical sale price per share (required)")
	cmd.Flags().StringVar(&specificLots, "specific-lots", "", `also simulate this specific plan, e.g. "lot=1:40"`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newTradeVerifyCmd() *cobra.Command {
	var (
		owner  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-derive ledger invariants and report violations",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			report, err := a.portfolio.Verify(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				fmt.Printf("Checked %d lots and %d sells.\n", report.LotsChecked, report.SellsChecked)
				for _, violation := range report.Violations {
					fmt.Printf("  VIOLATION %s: %s\n", violation.Check, violation.Detail)
				}
			}

			if !report.OK() {
				return fmt.Errorf("ledger verification found %d violations", len(report.Violations))
			}
			if !asJSON {
				fmt.Println("Ledger is consistent.")
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
