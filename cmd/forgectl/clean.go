// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/forge/internal/ferrors"
	"github.com/kraklabs/forge/internal/rulefile"
	"github.com/kraklabs/forge/internal/ui"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/rule"
)

func runClean(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	targets := fs.Args()
	if len(targets) == 0 {
		ferrors.FatalError(ferrors.NewUserError(
			"No targets given",
			"forgectl clean requires at least one target",
			"Run 'forgectl clean //path/to:target'",
		), globals.JSON)
	}

	rules, err := rulefile.Load(globals.RulesPath)
	if err != nil {
		ferrors.FatalError(err.(*ferrors.Error), globals.JSON)
	}

	proj, err := loadProject(globals)
	if err != nil {
		ferrors.FatalError(err.(*ferrors.Error), globals.JSON)
	}

	store := buildinfo.New()
	for _, t := range targets {
		r, ok := rules[rule.Target(t)]
		if !ok {
			ui.Warningf("unknown target, skipping: %s", t)
			continue
		}
		metaDir := r.MetadataDir(proj.BuckOut)
		outDir := r.OutDir(proj.BuckOut)
		if err := store.Delete(metaDir); err != nil {
			ui.Warningf("%s: failed to remove metadata: %v", t, err)
			continue
		}
		if err := os.RemoveAll(outDir); err != nil {
			ui.Warningf("%s: failed to remove outputs: %v", t, err)
			continue
		}
		if !globals.Quiet {
			ui.Successf("cleaned %s (%s)", t, outDir)
		}
	}
}
