package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/api"
	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the decision memory and review sessions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := newPipeline(st)
		collector := newCollector(st, p.Sessions())

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		} else {
			zap.L().Debug("alert checker disabled")
		}

		srv := api.New(p, st, collector, cfg.Server.AllowedOrigins).
			WithSessionTTL(time.Duration(cfg.Server.SessionTTLMins) * time.Minute)
		return srv.ListenAndServe(ctx, cfg.Server.Port)
	},
}

// newCollector builds a collector that also reports the store's circuit
// breaker when it has one.
func newCollector(st memory.Store, sessions monitoring.SessionCounter) *monitoring.Collector {
	if b := memory.BreakerOf(st); b != nil {
		return monitoring.NewCollector(st, sessions, b)
	}
	return monitoring.NewCollector(st, sessions, nil)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
