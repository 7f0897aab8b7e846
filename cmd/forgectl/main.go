// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements forgectl, a reference CLI over pkg/engine.
//
// Usage:
//
//	forgectl [--rules=.forge/RULES.yaml] [--json] build <target>
//	forgectl cache-stats
//	forgectl clean <target>
//	forgectl serve [--port=8080]
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds flags shared by every subcommand.
type GlobalFlags struct {
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
	RulesPath  string
	ConfigPath string
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
		rulesPath   = flag.String("rules", ".forge/RULES.yaml", "Path to the rule graph")
		configPath  = flag.StringP("config", "c", "", "Path to .forge/project.yaml (default: discovered)")
	)
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `forgectl - content-addressed incremental build engine

Usage:
  forgectl <command> [options]

Commands:
  build         Build one or more targets
  cache-stats   Show local artifact cache statistics
  clean         Remove a target's recorded metadata and outputs
  serve         Expose Prometheus metrics over HTTP

Global Options:
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v info, -vv debug)
  -q, --quiet       Suppress non-essential output
  --rules           Path to the rule graph (default .forge/RULES.yaml)
  -c, --config      Path to .forge/project.yaml
  -V, --version     Show version and exit

For detailed command help: forgectl <command> --help
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("forgectl version %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
		RulesPath:  *rulesPath,
		ConfigPath: *configPath,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "build":
		runBuild(cmdArgs, globals)
	case "cache-stats":
		runCacheStats(cmdArgs, globals)
	case "clean":
		runClean(cmdArgs, globals)
	case "serve":
		runServe(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
