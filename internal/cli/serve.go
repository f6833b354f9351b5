package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/purser/internal/clientdata"
	"github.com/aristath/purser/internal/scheduler"
	"github.com/aristath/purser/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only HTTP API, with optional scheduled refresh",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = a.cfg.HTTPPort
			}

			srv := server.New(server.Config{Port: port}, server.Deps{
				Prices:    a.prices,
				Ledger:    a.ledger,
				Portfolio: a.portfolio,
				PnL:       a.pnlRepo,
				Logs:      a.logs,
				Status:    a.statusService(),
			}, a.log)

			var sched *scheduler.Scheduler
			if a.cfg.RefreshCron != "" {
				watchlist, _, err := resolveWatchlist(a.cfg, nil)
				if err != nil {
					return fmt.Errorf("REFRESH_CRON is set but no watchlist is configured: %w", err)
				}

				sched = scheduler.New(a.log)
				job := scheduler.NewRefreshJob(a.data, watchlist, true, a.log)
				if err := sched.AddJob(a.cfg.RefreshCron, job); err != nil {
					return fmt.Errorf("invalid REFRESH_CRON %q: %w", a.cfg.RefreshCron, err)
				}
				if err := sched.AddJob("@daily", clientdata.NewCleanupJob(a.cache, a.log)); err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Start()
			}()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}

			return nil
		}),
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default HTTP_PORT from config)")
	return cmd
}
