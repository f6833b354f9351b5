package cli

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/purser/internal/clients/finnhub"
	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/marketdata"
)

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Download and inspect market data",
	}

	cmd.AddCommand(newDataDownloadCmd())
	cmd.AddCommand(newDataQueryCmd())
	cmd.AddCommand(newDataWatchCmd())

	return cmd
}

func newDataDownloadCmd() *cobra.Command {
	var (
		comprehensive bool
		financialOnly bool
		startDate     string
		useWatchlist  bool
	)

	cmd := &cobra.Command{
		Use:   "download [symbols...]",
		Short: "Download price history (and optionally financials) for symbols",
		Example: `  purser data download AAPL MSFT
  purser data download --use-watchlist --comprehensive
  purser data download AAPL --start-date 2020-01-01`,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if startDate != "" && !domain.ValidDate(startDate) {
				return domain.NewError(domain.KindValidation, "start-date must be YYYY-MM-DD, got %q", startDate)
			}

			symbols := normalizeSymbols(args)
			if len(symbols) == 0 {
				if !useWatchlist {
					return domain.NewError(domain.KindValidation, "give symbols or pass --use-watchlist")
				}
				var err error
				symbols, _, err = resolveWatchlist(a.cfg, nil)
				if err != nil {
					return err
				}
			}

			results := a.data.Batch(cmd.Context(), symbols, marketdata.BatchOptions{
				StartDate:         startDate,
				IncludeFinancials: comprehensive,
				FinancialsOnly:    financialOnly,
			})

			printDownloadResults(results)

			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			switch {
			case failed == 0:
				return nil
			case failed == len(results):
				return fmt.Errorf("all %d downloads failed", failed)
			default:
				return errPartial("%d of %d downloads failed", failed, len(results))
			}
		}),
	}

	cmd.Flags().BoolVar(&comprehensive, "comprehensive", false, "also download financial statements")
	cmd.Flags().BoolVar(&financialOnly, "financial-only", false, "download only financial statements")
	cmd.Flags().StringVar(&startDate, "start-date", "", "override the first date of bulk downloads (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&useWatchlist, "use-watchlist", false, "download the configured watchlist when no symbols are given")

	return cmd
}

func printDownloadResults(results []marketdata.Result) {
	rows := [][]string{{"SYMBOL", "STATUS", "STRATEGY", "ROWS", "RANGE", "ERROR"}}
	for _, r := range results {
		status := "ok"
		if r.NoNewData {
			status = "up to date"
		}
		if !r.Success {
			status = "failed"
		}
		dateRange := ""
		if r.FirstDate != "" {
			dateRange = r.FirstDate + ".." + r.LastDate
		}
		rows = append(rows, []string{r.Symbol, status, r.StrategyUsed,
			strconv.Itoa(r.RowsAdded), dateRange, r.ErrorMessage})
	}
	table(rows)
}

func newDataQueryCmd() *cobra.Command {
	var (
		symbol    string
		startDate string
		endDate   string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored daily bars for a symbol",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			for _, date := range []string{startDate, endDate} {
				if date != "" && !domain.ValidDate(date) {
					return domain.NewError(domain.KindValidation, "dates must be YYYY-MM-DD, got %q", date)
				}
			}

			bars, err := a.prices.GetPrices(symbol, startDate, endDate, limit)
			if err != nil {
				return err
			}
			if len(bars) == 0 {
				return domain.NewError(domain.KindNoData, "no prices stored for %s", symbol)
			}

			if asJSON {
				return printJSON(bars)
			}

			rows := [][]string{{"DATE", "OPEN", "HIGH", "LOW", "CLOSE", "ADJ CLOSE", "VOLUME"}}
			for _, bar := range bars {
				rows = append(rows, []string{
					bar.Date,
					fmt.Sprintf("%.4f", bar.Open),
					fmt.Sprintf("%.4f", bar.High),
					fmt.Sprintf("%.4f", bar.Low),
					fmt.Sprintf("%.4f", bar.Close),
					fmt.Sprintf("%.4f", bar.AdjClose),
					strconv.FormatInt(bar.Volume, 10),
				})
			}
			table(rows)
			fmt.Printf("\n%d bars\n", len(bars))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol to query (required)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "first date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last date, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent N bars (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("symbol")

	return cmd
}

func newDataWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [symbols...]",
		Short: "Stream live trades for symbols until interrupted",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			symbols, _, err := resolveWatchlist(a.cfg, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Streaming trades for %v (Ctrl-C to stop)\n", symbols)

			err = a.finnhub.StreamTrades(ctx, symbols, func(t finnhub.Trade) {
				fmt.Printf("%s  %-8s %12.4f  x %.0f\n",
					t.Time().Format("15:04:05.000"), t.Symbol, t.Price, t.Volume)
			})
			if domain.IsKind(err, domain.KindCanceled) {
				return nil
			}
			return err
		}),
	}

	return cmd
}
