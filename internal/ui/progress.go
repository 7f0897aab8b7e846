// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressConfig controls whether NewBar renders an actual bar or a no-op
// (quiet mode, non-TTY, or --json, where a bar would corrupt output).
type ProgressConfig struct {
	Quiet bool
}

// NewBar creates a progress bar for a phase of up to total units of work,
// or a hidden bar that silently tracks Set64/Finish calls when cfg.Quiet is
// set — callers never need an `if !quiet` branch around every update.
func NewBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if cfg.Quiet {
		return progressbar.NewOptions64(total, progressbar.OptionSetWriter(progressbarDiscard{}))
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { os.Stderr.Write([]byte("\n")) }), //nolint:errcheck
	)
}

type progressbarDiscard struct{}

func (progressbarDiscard) Write(p []byte) (int, error) { return len(p), nil }
