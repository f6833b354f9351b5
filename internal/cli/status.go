package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report database health, table sizes and host resources",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			status, err := a.statusService().Collect(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(status)
			}

			db := status.Database
			health := "healthy"
			if !db.Healthy {
				health = "UNHEALTHY: " + db.Error
			}
			fmt.Printf("Database %s (%s)\n", health, db.Path)
			fmt.Printf("  Size: %.2f MB (WAL %.2f MB)\n",
				float64(db.SizeBytes)/(1<<20), float64(db.WALSizeBytes)/(1<<20))

			rows := [][]string{{"TABLE", "ROWS"}}
			for _, t := range []string{"stocks", "stock_prices", "financial_statements",
				"download_logs", "transactions", "purchase_lots", "sale_allocations", "daily_pnl"} {
				if count, ok := db.TableCounts[t]; ok {
					rows = append(rows, []string{t, fmt.Sprintf("%d", count)})
				}
			}
			table(rows)

			host := status.Host
			fmt.Printf("\nHost: cpu %.1f%%, mem %.2f/%.2f GB, disk %.1f%% used\n",
				host.CPUPercent,
				float64(host.MemoryUsed)/(1<<30), float64(host.MemoryTotal)/(1<<30),
				host.DiskPercent)

			if len(status.Downloads) > 0 {
				fmt.Println("\nWatchlist freshness:")
				rows := [][]string{{"SYMBOL", "STATUS", "LAST DATE", "DOWNLOADED AT"}}
				for _, d := range status.Downloads {
					if d.NeverFetched {
						rows = append(rows, []string{d.Symbol, "never fetched", "", ""})
						continue
					}
					rows = append(rows, []string{d.Symbol, d.Status, d.LastDate, d.DownloadedAt})
				}
				table(rows)
			}

			if !db.Healthy {
				return fmt.Errorf("database is unhealthy")
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}
