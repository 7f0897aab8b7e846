// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/internal/ui"
)

type cacheStats struct {
	Dir        string `json:"dir"`
	BlobCount  int    `json:"blob_count"`
	TotalBytes int64  `json:"total_bytes"`
}

func runCacheStats(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache-stats", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	proj, err := loadProject(globals)
	if err != nil {
		ferrors.FatalError(err.(*ferrors.Error), globals.JSON)
	}
	dir, err := absCacheDir(proj)
	if err != nil {
		ferrors.FatalError(ferrors.NewInternalError(
			"Cannot resolve cache directory",
			"filepath.Abs failed on the configured cache directory",
			"Check the cache.dir setting in your project.yaml",
			err,
		), globals.JSON)
	}

	stats := cacheStats{Dir: dir}
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		ferrors.FatalError(ferrors.NewPermissionError(
			"Cannot read cache directory",
			fmt.Sprintf("Failed to list %s", dir),
			"Check directory permissions",
			err,
		), globals.JSON)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".blob" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.BlobCount++
		stats.TotalBytes += info.Size()
	}

	if globals.JSON {
		data, _ := json.MarshalIndent(stats, "", "  ") //nolint:errcheck
		fmt.Println(string(data))
		return
	}

	ui.Header("Artifact Cache")
	fmt.Printf("%s %s\n", ui.Label("Directory:"), ui.DimText(stats.Dir))
	fmt.Printf("%s   %s\n", ui.Label("Blobs:"), ui.CountText(stats.BlobCount))
	fmt.Printf("%s   %d bytes\n", ui.Label("Size:"), stats.TotalBytes)
}
