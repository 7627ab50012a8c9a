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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/marketplace/internal/config"
	marketlog "github.com/tombee/marketplace/internal/log"
)

// Run starts the daemon for cfg and blocks until ctx is done or the
// process receives SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d, err := New(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("Failed to create daemon", marketlog.Error(err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("Daemon error", marketlog.Error(runErr))
			runErr = fmt.Errorf("daemon error: %w", runErr)
		}
	}
	cancel()
	if err := d.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}

// NewLogger builds the process logger from the log section. Output goes to
// stderr so stdout stays free for MCP stdio and JSON command output.
func NewLogger(cfg *config.Config) *slog.Logger {
	lc := marketlog.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = marketlog.Format(cfg.Log.Format)
	lc.AddSource = cfg.Log.AddSource
	return marketlog.New(lc)
}
