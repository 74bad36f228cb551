package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/percebe/percebe/internal/controlrpc"
	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/metrics"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/scheduler"
	"github.com/percebe/percebe/internal/store"
	"github.com/percebe/percebe/internal/validation"
)

var (
	dataDir     string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "percebe",
	Short: "Automated email forwarding engine",
	Long: `P.E.R.C.E.B.E. polls IMAP mailboxes for new mail, matches each
message against per-account forwarding rules, and relays matches over
SMTP with a persistent retry queue for transient failures.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the polling loop and control-plane RPC server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		type resourceTracker struct {
			metricsSrv *metrics.Server
			logs       []*store.EventLog
		}
		resources := &resourceTracker{}

		cleanup := func() {
			logger.Info("Starting graceful shutdown")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if resources.metricsSrv != nil {
				if err := resources.metricsSrv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Metrics server shutdown error", "error", err.Error())
				}
			}
			for _, l := range resources.logs {
				if err := l.Close(); err != nil {
					logger.Error("Event log close error", "error", err.Error())
				}
			}

			logger.Info("Shutdown complete")
		}

		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "PANIC during server operation: %v\n", r)
				cleanup()
				panic(r)
			}
		}()

		cfgStore := store.Open(filepath.Join(dataDir, "configuracion.json"), logger)
		logger.Info("configuration loaded", "path", filepath.Join(dataDir, "configuracion.json"))

		if err := validation.Validate(cfgStore.Get()); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		queue, err := retryqueue.Open(filepath.Join(dataDir, "cola_reintentos.json"))
		if err != nil {
			return fmt.Errorf("failed to load retry queue: %w", err)
		}

		forwardedLog, err := store.OpenEventLog(store.EventLogPath(dataDir, store.EventLogForwarded))
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to open forwarded-events log: %w", err)
		}
		resources.logs = append(resources.logs, forwardedLog)

		errorLog, err := store.OpenEventLog(store.EventLogPath(dataDir, store.EventLogErrors))
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to open error log: %w", err)
		}
		resources.logs = append(resources.logs, errorLog)

		processingLog, err := store.OpenEventLog(store.EventLogPath(dataDir, store.EventLogProcessing))
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to open processing log: %w", err)
		}
		resources.logs = append(resources.logs, processingLog)

		if metricsAddr != "" {
			resources.metricsSrv = metrics.NewServer(metricsAddr)
			go func() {
				if err := resources.metricsSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
					logger.Error("metrics server error", "error", err.Error())
				}
			}()
			logger.Info("metrics server started", "addr", metricsAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())

		logs := &store.LogSet{Forwarded: forwardedLog, Errors: errorLog, Processing: processingLog}

		sched := scheduler.New(cfgStore, queue, logs, logger)
		go sched.Run(ctx)
		logger.Info("polling loop started")

		rpcStop := make(chan struct{})
		if cfgStore.Get().APIEnabled {
			rpcServer := controlrpc.New(cfgStore, queue, logs, logger)

			go func() {
				if err := rpcServer.ListenAndServe(cfgStore.Get().APIPort, rpcStop); err != nil {
					logger.Error("control RPC server error", "error", err.Error())
				}
			}()
			logger.Info("control RPC started", "port", cfgStore.Get().APIPort)
		}

		fmt.Println("P.E.R.C.E.B.E. v2.1 running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())

		close(rpcStop)
		cancel()
		cleanup()

		logger.Info("server stopped")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("percebe v2.1")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", ".", "directory holding configuracion.json, cola_reintentos.json, and the event logs")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
