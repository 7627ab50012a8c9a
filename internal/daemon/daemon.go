// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon runs marketd: it assembles the marketplace from
// configuration and serves it over HTTP until shut down.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/marketplace/internal/api"
	"github.com/tombee/marketplace/internal/config"
	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/tracing"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the marketd HTTP daemon.
type Daemon struct {
	cfg        *config.Config
	opts       Options
	logger     *slog.Logger
	components *Components
	tracing    *tracing.Provider
	server     *http.Server
	ln         net.Listener

	stopPurge context.CancelFunc
	purgeDone chan struct{}

	mu      sync.Mutex
	started bool
}

// New creates a daemon. The catalog is loaded and the session store opened
// here, so configuration problems surface before anything listens.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Daemon, error) {
	logger = marketlog.WithComponent(marketlog.OrDefault(logger), "daemon")

	tcfg := cfg.Tracing
	tcfg.ServiceVersion = opts.Version
	tp, err := tracing.New(ctx, tcfg, logger, tracing.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	components, err := Build(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return &Daemon{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		components: components,
		tracing:    tp,
	}, nil
}

// Components returns the assembled marketplace.
func (d *Daemon) Components() *Components {
	return d.components
}

// Addr returns the listening address once Start has bound it.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// Start serves HTTP and blocks until ctx is cancelled or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true

	ln, err := net.Listen("tcp", d.cfg.Server.Addr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Server.Addr, err)
	}
	d.ln = ln

	router := api.NewRouter(d.components.Service, api.RouterConfig{
		Version:   d.opts.Version,
		RateLimit: d.cfg.Server.RateLimit,
		Catalog:   d.components.CatalogHealth,
	}, d.logger)

	d.server = &http.Server{
		Handler:      router,
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	d.startPurge()
	d.mu.Unlock()

	d.logger.Info("marketd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// startPurge runs periodic session cleanup for stores that need it.
func (d *Daemon) startPurge() {
	purger, ok := d.components.Store.(store.SessionPurger)
	if !ok || d.cfg.Server.PurgeInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stopPurge = cancel
	d.purgeDone = make(chan struct{})

	go func() {
		defer close(d.purgeDone)
		ticker := time.NewTicker(d.cfg.Server.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				// Sessions stay readable for one TTL past expiry.
				n, err := purger.PurgeSessions(ctx, now.Add(-d.cfg.Session.TTL))
				if err != nil {
					d.logger.Warn("session purge failed", marketlog.Error(err))
					continue
				}
				if n > 0 {
					d.logger.Debug("purged sessions", slog.Int64("count", n))
				}
			}
		}
	}()
}

// Shutdown gracefully shuts down the daemon.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return d.release(ctx)
	}
	d.logger.Info("graceful shutdown initiated")

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", marketlog.Error(err))
		}
	}

	if d.stopPurge != nil {
		d.stopPurge()
		<-d.purgeDone
	}

	err := d.release(ctx)
	d.started = false
	d.logger.Info("daemon stopped")
	return err
}

// release closes the components and flushes tracing.
func (d *Daemon) release(ctx context.Context) error {
	var errs []error
	if err := d.components.Close(); err != nil {
		d.logger.Error("failed to close components", marketlog.Error(err))
		errs = append(errs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.tracing.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("tracing shutdown error", marketlog.Error(err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
