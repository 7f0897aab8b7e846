// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package rulefile

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/kraklabs/forge/pkg/rule"
)

// shellStep runs argv[0] with the remaining elements as arguments, in the
// rule's output directory, grounded on the teacher's own GitExecutor
// exec.Command wiring (pkg/tools/git.go).
type shellStep struct {
	argv []string
}

func (s shellStep) Run(ctx context.Context, dir string) error {
	if len(s.argv) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...) //nolint:gosec // G204: command comes from the trusted rule file, not user input
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rulefile: run %v: %w\n%s", s.argv, err, out)
	}
	return nil
}

var _ rule.Step = shellStep{}
