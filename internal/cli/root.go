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

// Package cli builds the marketd root command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/marketplace/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for marketd
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketd",
		Short: "marketd - workflow marketplace planning engine",
		Long: `marketd matches a task against a catalog of reusable workflows,
decomposes tasks no single workflow covers, and prices ranked
execution plans.

Run 'marketd serve' to start the HTTP API.
Run 'marketd mcp-server' to expose the marketplace to AI assistants.
Run 'marketd index' to load a catalog into Elasticsearch.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: environment only)")

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
