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

package main

import (
	"context"

	"github.com/tombee/marketplace/internal/cli"
	"github.com/tombee/marketplace/internal/commands/estimate"
	"github.com/tombee/marketplace/internal/commands/index"
	"github.com/tombee/marketplace/internal/commands/mcpserver"
	"github.com/tombee/marketplace/internal/commands/serve"
	versioncmd "github.com/tombee/marketplace/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Serving
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(mcpserver.NewCommand())

	// Catalog and planning
	rootCmd.AddCommand(index.NewCommand())
	rootCmd.AddCommand(estimate.NewCommand())

	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		cli.HandleExitError(err)
	}
}
