package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mushimuro/agent-company/internal/api"
	"github.com/mushimuro/agent-company/internal/coordinator"
	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/metrics"
	"github.com/mushimuro/agent-company/internal/review"
	"github.com/mushimuro/agent-company/internal/runner"
	"github.com/mushimuro/agent-company/internal/worker"
)

// newServeCmd creates the serve command for the orchestrator server.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator API server",
		Long: `Start the agentco orchestrator.

The server schedules ready tasks onto agent workers, exposes the REST
API for projects, tasks, and attempts, and streams per-project events
over WebSocket at /ws/project/{id}.

Example:
  agentco serve              # Start on the configured port
  agentco serve --port 3000  # Start on a custom port`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			logger := newLogger(cfg)

			d, err := db.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer d.Close()

			bus := events.NewMemoryBus(
				events.WithBufferSize(cfg.Events.BufferSize),
				events.WithDropHandler(func(string) { metrics.EventsDropped.Inc() }),
			)
			defer bus.Close()
			broadcast := events.NewBroadcaster(bus)

			wc := worker.NewHTTPClient(cfg.Worker, logger)
			run := runner.New(d, wc, broadcast, logger, runner.WithModel(cfg.Worker.Model))
			pool := runner.NewPool(d, run, cfg.Execution.MaxConcurrent, logger)
			coord := coordinator.New(d, pool, broadcast, cfg.Execution.MaxConcurrent, logger)
			gate := review.New(d, wc, coord, broadcast, logger)
			server := api.New(cfg, d, coord, gate, bus, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nShutting down...")
				cancel()
			}()

			pool.Start(ctx)
			review.NewSweeper(d, wc, logger).Start(ctx)

			fmt.Printf("Starting agentco on %s (worker at %s)\n", cfg.Server.Addr(), cfg.Worker.BaseURL)
			fmt.Println("Press Ctrl+C to stop")

			err = server.Start(ctx)
			pool.Wait()
			return err
		},
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	return cmd
}
