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

// Package serve implements the serve command.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/tombee/marketplace/internal/commands/shared"
	"github.com/tombee/marketplace/internal/daemon"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the marketplace HTTP API",
		Long: `Start the marketplace HTTP API.

The catalog is loaded from the configured source (file, s3 or
elasticsearch) before the listener starts. The server exposes:

  GET  /v1/health         service and catalog status
  POST /v1/estimate       rank solutions for a task
  POST /v1/resolve        purchase a solution from an estimate session
  GET  /v1/catalog        list catalog items
  GET  /v1/pricing/{id}   price one catalog item
  POST /v1/feedback       record an up or down vote
  GET  /metrics           Prometheus metrics

SIGINT or SIGTERM triggers a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			v, c, b := shared.GetVersion()
			return daemon.Run(cmd.Context(), cfg, daemon.Options{Version: v, Commit: c, BuildDate: b})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr and MARKET_ADDR)")
	return cmd
}
