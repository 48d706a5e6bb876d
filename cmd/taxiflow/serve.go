package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taxiflow/taxiflow/pkg/dispatch"
	"github.com/taxiflow/taxiflow/pkg/docstore"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ledger"
	"github.com/taxiflow/taxiflow/pkg/relstore"
	"github.com/taxiflow/taxiflow/pkg/server"
	"github.com/taxiflow/taxiflow/pkg/tui"
)

var (
	servePort int
	serveHost string
	serveMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the artifacts and the dashboard",
	Long: `Start an HTTP server that renders the trip sample and the hourly summary.

The artifacts are reloaded whenever they change on disk. The dashboard's
"Regenerate data" button either dispatches a remote workflow (mode remote)
or runs the pipeline in-process (mode local).

Examples:
  taxiflow serve
  taxiflow serve --port 3000 --host 0.0.0.0
  taxiflow serve --mode local`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8501, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind to")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Regenerate mode (remote, local)")
	serveCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Artifact directory")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return tferrors.Wrapf(err, tferrors.CodeNetwork, "failed to listen on %s", addr)
	}
	return serve(ctx, listener, cmd.OutOrStdout())
}

// serve runs the dashboard on listener until ctx is cancelled.
func serve(ctx context.Context, listener net.Listener, w io.Writer) error {
	defer initTelemetry(ctx, cfg.Telemetry, logger)()

	opts := server.Options{
		OutputDir:   cfg.Data.OutputDir,
		CORSOrigins: cfg.Server.CORSOrigins,
		Mode:        cfg.Server.RegenerateMode,
		Logger:      logger,
	}
	var closers tferrors.MultiError
	defer func() {
		if err := closers.Combined(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	switch opts.Mode {
	case server.ModeLocal:
		runner := NewPipelineRunner(cfg, logger)
		runner.progress = nil
		opts.LocalRun = func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		}
	default:
		if d, err := dispatch.New(dispatch.Config{
			BaseURL:    cfg.Dispatch.BaseURL,
			Repository: cfg.Dispatch.Repository,
			EventType:  cfg.Dispatch.EventType,
			Token:      cfg.Dispatch.Token,
		}); err != nil {
			logger.Warn("remote regeneration disabled", "error", err)
		} else {
			logger.Info("remote regeneration enabled", "repository", d.Repository())
			opts.Dispatcher = d
		}
	}

	if led, err := ledger.Open(ctx, cfg.Ledger); err != nil {
		logger.Warn("run ledger unavailable", "backend", cfg.Ledger.Backend, "error", err)
	} else {
		opts.Ledger = led
		defer func() { closers.Add(led.Close()) }()
	}

	if cfg.DocStore.URI != "" {
		store, err := docstore.Open(ctx, docstore.Config{
			URI:        cfg.DocStore.URI,
			Database:   cfg.DocStore.Database,
			Collection: cfg.DocStore.Collection,
			Timeout:    cfg.DocStore.Timeout,
		})
		if err != nil {
			logger.Warn("docstore unavailable", "error", err)
		} else {
			opts.DocStore = store
			defer func() { closers.Add(store.Close(context.Background())) }()
		}
	}

	if cfg.RelStore.DSN != "" {
		store, err := relstore.Open(ctx, relstore.Config{
			DSN:     cfg.RelStore.DSN,
			Table:   cfg.RelStore.Table,
			Limit:   cfg.RelStore.Limit,
			Timeout: cfg.RelStore.Timeout,
		})
		if err != nil {
			logger.Warn("relstore unavailable", "error", err)
		} else {
			opts.RelStore = store
			defer func() { closers.Add(store.Close()) }()
		}
	}

	srv := server.NewServer(opts)
	defer srv.Close()

	httpServer := &http.Server{
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// WriteTimeout stays unset for the event stream.
	}
	httpServer.RegisterOnShutdown(srv.CloseEvents)

	addr := listener.Addr().String()
	url := "http://" + addr
	if cfg.Server.Host == "0.0.0.0" || cfg.Server.Host == "" {
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			url = fmt.Sprintf("http://localhost:%d", tcp.Port)
		}
	}
	if tui.IsTerminal(os.Stdout) {
		tui.PrintHeader(w, version)
	}
	tui.PrintNotice(w, fmt.Sprintf("serving %s on %s (regenerate: %s)", cfg.Data.OutputDir, url, opts.Mode))
	logger.Info("server started", "addr", addr, "output_dir", cfg.Data.OutputDir, "mode", opts.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Watch(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
