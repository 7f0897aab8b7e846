// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/internal/metrics"
	"github.com/kraklabs/forge/internal/ui"
)

// runServe starts a local HTTP server exposing this process's
// metrics.Registry at /metrics, plus a liveness check at /health. forgectl
// runs one subcommand per process, so a serve process records no build
// results of its own: the counters it exposes stay at their initial values.
func runServe(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.StringP("port", "p", "8080", "Port to listen on")
	fs.Parse(args) //nolint:errcheck // flag.ExitOnError already exits on parse failure

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              ":" + *port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	if !globals.Quiet {
		ui.Infof("forgectl serve listening on :%s (GET /health, GET /metrics)", *port)
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		ferrors.FatalError(ferrors.NewInternalError(
			"Metrics server failed",
			err.Error(),
			"Check that the configured port is not already in use",
			err,
		), globals.JSON)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
