package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/coordcluster/internal/api"
	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/db"
)

type serveOptions struct {
	listen     string
	dbPath     string
	assetsHost string
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := a.newFlagSet("serve")
	var (
		opts serveOptions
		cf   clusterFlags
	)
	fs.StringVar(&opts.listen, "listen", ":8080", "Listen address")
	fs.StringVar(&opts.dbPath, "db", "coordcluster.db", `SQLite database for run history ("" disables)`)
	fs.StringVar(&opts.assetsHost, "assets-host", "", "ECharts assets host for chart pages")
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if opts.listen == "" {
		return fmt.Errorf("%w: listen address is required", errUsage)
	}

	defaults, err := cf.effective(fs)
	if err != nil {
		return err
	}

	var database *db.DB
	if opts.dbPath != "" {
		database, err = db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
	}

	handler, err := newHandler(database, defaults, opts.assetsHost)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, ln, handler)
}

// newHandler wires the API routes, the admin routes when a database is
// attached, and request logging.
func newHandler(database *db.DB, defaults *config.ClusterConfig, assetsHost string) (http.Handler, error) {
	srv := api.NewServer(database, defaults)
	if assetsHost != "" {
		srv.SetAssetsHost(assetsHost)
	}
	mux := srv.ServeMux()
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("failed to attach admin routes: %w", err)
		}
	}
	return api.LoggingMiddleware(mux), nil
}

// serveHTTP serves until ctx is cancelled, then shuts down gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("graceful shutdown complete")
	return nil
}
