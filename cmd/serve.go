package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parkuman/cypress-code-coverage-v8/api"
	"github.com/parkuman/cypress-code-coverage-v8/capture"
	"github.com/parkuman/cypress-code-coverage-v8/cdp"
	"github.com/parkuman/cypress-code-coverage-v8/lib"
)

func getServeCmd(c *rootCommand) *cobra.Command {
	var (
		address string
		cdpPort int
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the coverage hook server for a test run",
		Long: "Serve the lifecycle-hook HTTP API and collect native V8 coverage " +
			"from the browser under test. Exits immediately unless CYCOV_ENABLED is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := c.loadConfig()
			if err != nil {
				return err
			}
			if !conf.Enabled.Bool {
				c.logger.Infof("cov:cmd", "coverage collection is disabled, set CYCOV_ENABLED=true to enable it")
				return nil
			}
			for _, w := range conf.Validate(c.fs) {
				c.logger.Warnf("cov:cmd", "%s", w)
			}

			if address == "" {
				address = conf.HookAddr.String
			}
			cdpPort = resolveDebugPort(c, conf, cdpPort)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manager := cdp.NewManager(conf, c.logger)
			defer manager.Close()
			if cdpPort > 0 {
				manager.Connect(ctx, cdpPort)
			} else {
				c.logger.Warnf("cov:cmd", "no debugger port configured, coverage will be degraded")
			}

			ctrl := capture.NewController(conf, c.fs, c.logger, manager)
			srv := api.GetServer(address, c.logger, ctrl)

			errCh := make(chan error, 1)
			go func() {
				c.logger.Infof("cov:cmd", "hook server listening on %s", address)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	serveCmd.Flags().StringVarP(&address, "address", "a", "", "address for the hook server (default from config)")
	serveCmd.Flags().IntVar(&cdpPort, "cdp-port", 0, "devtools debugger port of the browser under test")
	return serveCmd
}

// resolveDebugPort picks the debugger port: the --cdp-port flag wins, then the
// debugPort config value, then the --remote-debugging-port flag recovered from
// the configured browser launch arguments. A zero return means no port could
// be determined and the run proceeds without coverage.
func resolveDebugPort(c *rootCommand, conf lib.Config, flagPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	if conf.DebugPort.Valid {
		return int(conf.DebugPort.Int64)
	}
	if len(conf.BrowserArgs) == 0 {
		return 0
	}
	port, err := cdp.ParseDebugPort(conf.BrowserArgs)
	if err != nil {
		if errors.Is(err, cdp.ErrNoDebugPort) {
			c.logger.Errorf("cov:cmd", "browser launch arguments carry no --remote-debugging-port flag, coverage cannot be captured")
		} else {
			c.logger.Errorf("cov:cmd", "parsing browser launch arguments: %v", err)
		}
		return 0
	}
	return port
}
