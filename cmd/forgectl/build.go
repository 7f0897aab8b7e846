// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/internal/metrics"
	"github.com/kraklabs/forge/internal/rulefile"
	"github.com/kraklabs/forge/internal/ui"
	"github.com/kraklabs/forge/pkg/artifactcache"
	"github.com/kraklabs/forge/pkg/artifactcache/localdir"
	"github.com/kraklabs/forge/pkg/engine"
	"github.com/kraklabs/forge/pkg/eventbus"
	"github.com/kraklabs/forge/pkg/rule"
)

// buildResult is the --json shape for a single target's outcome.
type buildResult struct {
	Target      string   `json:"target"`
	Status      string   `json:"status"`
	Kind        string   `json:"kind,omitempty"`
	Error       string   `json:"error,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	DepFailures []string `json:"dep_failures,omitempty"`
}

func runBuild(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck // flag.ExitOnError already exits on parse failure

	targets := fs.Args()
	if len(targets) == 0 {
		ferrors.FatalError(ferrors.NewUserError(
			"No targets given",
			"forgectl build requires at least one target",
			"Run 'forgectl build //path/to:target'",
		), globals.JSON)
	}

	proj, err := loadProject(globals)
	if err != nil {
		ferrors.FatalError(err.(*ferrors.Error), globals.JSON)
	}

	rules, err := rulefile.Load(globals.RulesPath)
	if err != nil {
		ferrors.FatalError(err.(*ferrors.Error), globals.JSON)
	}

	var cache artifactcache.Cache
	if proj.Cache.Kind == "local" {
		dir, err := absCacheDir(proj)
		if err != nil {
			ferrors.FatalError(ferrors.NewInternalError(
				"Cannot resolve cache directory",
				"filepath.Abs failed on the configured cache directory",
				"Check the cache.dir setting in your project.yaml",
				err,
			), globals.JSON)
		}
		c, err := localdir.New(dir)
		if err != nil {
			ferrors.FatalError(ferrors.NewPermissionError(
				"Cannot initialize local artifact cache",
				fmt.Sprintf("Failed to create cache directory %s", dir),
				"Check directory permissions",
				err,
			), globals.JSON)
		}
		cache = c
	}

	logLevel := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		logLevel = slog.LevelDebug
	case globals.Verbose >= 1:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var sinks []eventbus.Sink
	if proj.EventLogDir != "" {
		sinks = append(sinks, eventbus.NewFileSink(proj.EventLogDir, "build.log"))
	}
	if !globals.Quiet {
		sinks = append(sinks, eventbus.SinkFunc(func(e eventbus.Event) {
			if e.Kind == eventbus.CacheResult || e.Kind == eventbus.BuildFailed {
				ui.Infof("%s: %s", e.Target, e.Message)
			}
		}))
	}
	bus := eventbus.New(256, sinks...)
	defer bus.Close()

	cfg := proj.EngineConfig()
	eng := engine.New(rules, cache, cfg, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make([]buildResult, 0, len(targets))
	exitCode := 0
	for _, t := range targets {
		start := time.Now()
		res, err := eng.Build(ctx, rule.Target(t))
		if err != nil {
			results = append(results, buildResult{Target: t, Status: "error", Error: err.Error()})
			exitCode = 1
			continue
		}
		metrics.RecordBuildResult(statusLabel(res.Status), res.Kind.String(), time.Since(start).Seconds())
		results = append(results, toJSONResult(res))
		if res.Status == engine.StatusFailure || res.Status == engine.StatusCanceled {
			exitCode = 1
		}
		if !globals.JSON {
			printResult(res)
		}
	}

	if globals.JSON {
		data, _ := json.MarshalIndent(results, "", "  ") //nolint:errcheck // buildResult always marshals
		fmt.Println(string(data))
	}
	os.Exit(exitCode)
}

func statusLabel(s engine.Status) string {
	switch s {
	case engine.StatusSuccess:
		return "success"
	case engine.StatusFailure:
		return "failure"
	case engine.StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func toJSONResult(r engine.Result) buildResult {
	out := buildResult{Target: string(r.Target)}
	switch r.Status {
	case engine.StatusSuccess:
		out.Status = "success"
		out.Kind = r.Kind.String()
	case engine.StatusFailure:
		out.Status = "failure"
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
	case engine.StatusCanceled:
		out.Status = "canceled"
		out.Reason = r.Reason
	}
	for _, dep := range r.DepFailures {
		out.DepFailures = append(out.DepFailures, string(dep))
	}
	return out
}

func printResult(r engine.Result) {
	switch r.Status {
	case engine.StatusSuccess:
		ui.Successf("%s  %s (%s)", string(r.Target), "OK", r.Kind.String())
	case engine.StatusFailure:
		ui.Warningf("%s  FAILED: %v", string(r.Target), r.Err)
	case engine.StatusCanceled:
		ui.Warningf("%s  CANCELED: %s", string(r.Target), r.Reason)
	}
	for _, dep := range r.DepFailures {
		ui.Warningf("  dependency failed: %s", dep)
	}
}
