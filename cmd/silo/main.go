package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"silo/internal/config"
	"silo/internal/httpapi"
	"silo/internal/store"
)

func Run(ctx context.Context) error {
	root := flag.String("root", ".", "directory holding one SQLite database per bucket")
	host := flag.String("host", "", "listen host")
	port := flag.Int("port", 8014, "listen port")
	accessKey := flag.String("access-key", "", "static access key (overrides config file)")
	secretKey := flag.String("secret-key", "", "static secret key (overrides config file)")
	concurrencyLimit := flag.Int("concurrency-limit", 0, "maximum number of requests admitted concurrently")
	domainName := flag.String("domain-name", "", "virtual-hosted-style domain suffix")
	permissiveCORS := flag.Bool("permissive-cors", false, "allow cross-origin requests from any origin")
	configPath := flag.String("config", "", "path to a YAML configuration file")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if *root != "." {
		cfg.Root = *root
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 8014 {
		cfg.Port = *port
	}
	if *accessKey != "" {
		cfg.AccessKey = *accessKey
	}
	if *secretKey != "" {
		cfg.SecretKey = *secretKey
	}
	if *concurrencyLimit != 0 {
		cfg.ConcurrencyLimit = *concurrencyLimit
	}
	if *domainName != "" {
		cfg.DomainName = *domainName
	}
	if *permissiveCORS {
		cfg.PermissiveCORS = true
	}

	// Ensure the root directory is absolute for easier debugging.
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root directory: %w", err)
	}
	cfg.Root = absRoot

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open silo storage core: %w", err)
	}
	defer st.Close()

	srv := httpapi.NewServer(cfg, st)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Silo HTTP server", "addr", cfg.Addr(), "root", cfg.Root)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	slog.Info("Silo Started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Silo exited with error", "error", err)
		os.Exit(1)
	}
}
