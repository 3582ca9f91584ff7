package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/orderproc"
	"github.com/tfkr-ae/orderproc/api"
	"github.com/tfkr-ae/orderproc/db"
	"github.com/tfkr-ae/orderproc/listener"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	*rootOptions
	Address string
	Port    string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the order processing API.

The database is created and migrated on first start. When server.tls_cert and
server.tls_key are configured the port accepts both TLS and plain HTTP.

Example:
  orderproc serve --port 9090
  ORDERPROC_LOG_FORMAT=json orderproc serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "listen address, overrides server.address")
	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port, overrides server.port")

	return cmd
}

// openService opens the database and builds the service described by cfg.
// Closing the service does not close the repository.
func openService(cfg *orderproc.Config, logger *slog.Logger) (*orderproc.Service, *db.Repository, error) {
	dbConn, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s : %w", cfg.Database.Path, err)
	}
	repo := db.NewRepository(dbConn)

	options := append([]func(*orderproc.Service) error{
		orderproc.WithRepo(repo),
		orderproc.WithLogger(logger),
	}, cfg.ServiceOptions()...)

	svc, err := orderproc.New(options...)
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("creating service : %w", err)
	}
	return svc, repo, nil
}

func serve(ctx context.Context, opts *serveOptions) error {
	cfg, logger, err := opts.load(os.Stderr)
	if err != nil {
		return err
	}
	if opts.Address != "" {
		cfg.Server.Address = opts.Address
	}
	if opts.Port != "" {
		cfg.Server.Port = opts.Port
	}

	svc, repo, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("error closing service", "error", err)
		}
		if err := repo.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	apiServer, err := api.New(svc,
		api.WithLogger(logger),
		api.WithAllowedOrigin(cfg.CORS.AllowedOrigin),
		api.WithCompression(cfg.Server.Compression),
	)
	if err != nil {
		return fmt.Errorf("creating api server : %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Address, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s : %w", addr, err)
	}

	scheme := "http"
	if cfg.Server.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading tls key pair : %w", err)
		}
		ln = listener.NewProtocolMuxListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"http/1.1"},
		})
		scheme = "https"
	}
	ln = listener.NewResilientListener(ln, logger)

	server := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()
	logger.Info("order processing api started", "url", fmt.Sprintf("%s://%s", scheme, ln.Addr()))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving api : %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// closing the service ends live order streams
	server.RegisterOnShutdown(func() {
		if err := svc.Close(); err != nil {
			logger.Error("error closing service", "error", err)
		}
	})
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api : %w", err)
	}
	return nil
}
