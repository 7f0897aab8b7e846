// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ferrors

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kraklabs/forge/internal/ui"
)

// jsonError is Error's wire shape for --json mode.
type jsonError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Format renders e for a human terminal, or as a single JSON object when
// asJSON is true (so a --json command never breaks structured output by
// mixing it with colored prose).
func (e *Error) Format(asJSON bool) string {
	if asJSON {
		data, err := json.Marshal(jsonError{
			Kind:       e.Kind.String(),
			Message:    e.Message,
			Detail:     e.Detail,
			Suggestion: e.Suggestion,
		})
		if err != nil {
			return fmt.Sprintf(`{"kind":"internal","message":%q}`, e.Message)
		}
		return string(data)
	}

	out := ui.ErrorLabel(e.Message) + "\n  " + e.Detail
	if e.Suggestion != "" {
		out += "\n  " + ui.Hint(e.Suggestion)
	}
	return out
}

// FatalError prints err and exits the process with a status selected by
// its Kind — KindUser/KindConfig failures exit 2 (misuse), everything else
// exits 1, matching the convention most of the corpus's own CLIs follow.
func FatalError(err *Error, asJSON bool) {
	fmt.Fprintln(os.Stderr, err.Format(asJSON))
	switch err.Kind {
	case KindUser, KindConfig:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
