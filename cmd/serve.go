package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/sandboxd/internal/api"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
)

const shutdownTimeout = 15 * time.Second

var (
	serveAddr     string
	serveNoReaper bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry reaper",
	Long: `Serves the sandbox API and runs the background reaper until interrupted.

Routes:
  GET    /api/sandbox                        view the caller's sandbox
  POST   /api/sandbox                        open (and create) the caller's sandbox
  POST   /api/sandbox/start                  start the caller's stopped sandbox
  DELETE /api/sandbox/:id                    destroy a sandbox
  GET    /api/admin/sandboxes                list records (admin)
  POST   /api/admin/sandboxes/:id/teardown   force a teardown (admin)
  GET    /healthz                            store and runtime health`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoReaper, "no-reaper", false, "Do not run the background reaper")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	if err := runtime.CheckAvailability(ctx, a.Runtime); err != nil {
		logWarning("%v", err)
	}

	if !logging.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := a.Config.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	router := api.NewRouter(cfg, api.Deps{
		Binder:      a.Binder,
		Sessions:    a.Sessions,
		Store:       a.Store,
		Provisioner: a.Provisioner,
		Teardown:    a.Teardown,
		Runtime:     a.Runtime,
	}, logging.Logger, api.WithCookie(cfg.SessionCookie, a.Config.Session.TTL.Duration))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logging.Info("listening", "addr", cfg.Addr, "runtime", a.Runtime.Name())
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if !serveNoReaper {
		go func() {
			if err := a.Reaper.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("reaper: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http shutdown", "error", err)
	}
	return runErr
}
