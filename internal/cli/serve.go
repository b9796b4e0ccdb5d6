package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgallion1/filingest/internal/api"
	"github.com/dgallion1/filingest/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and ingestion workers",
	Long: `serve starts the worker pool, re-queues any document left unfinished
by a previous run, and serves the HTTP API. When drop_dir is set, filings
copied into <dir>/<TICKER>/<TYPE>/<YYYY-MM-DD>/ are ingested automatically.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "listen port")
	serveCmd.Flags().String("drop-dir", "", "directory to watch for new filings")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("drop_dir", serveCmd.Flags().Lookup("drop-dir"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stdout)

	a, err := newApp(cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.orch.Start(ctx)
	n, err := a.orch.Recover(ctx)
	if err != nil {
		log.Error("recover unfinished documents", "error", err)
	} else if n > 0 {
		log.Info("re-queued unfinished documents", "count", n)
	}

	var watcher *watch.Watcher
	if cfg.DropDir != "" {
		watcher, err = watch.New(watch.Config{
			Dir:        cfg.DropDir,
			Debounce:   cfg.DropDebounce,
			CompanyFor: cfg.CompanyFor,
		}, a.orch, log)
		if err != nil {
			a.orch.Stop()
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			a.orch.Stop()
			return err
		}
		log.Info("watching drop directory", "dir", cfg.DropDir)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewServer(a.orch, a.registry, a.blobs, a.metrics, log, *cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting filingest", "port", cfg.Port, "version", Version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down...")
	}

	if watcher != nil {
		if werr := watcher.Stop(); werr != nil {
			log.Warn("stop watcher", "error", werr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", "error", serr)
	}
	a.orch.Stop()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
