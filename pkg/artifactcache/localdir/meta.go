// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package localdir

import (
	"encoding/json"
	"fmt"
	"os"
)

func readMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from cache key, not attacker input
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("localdir: unmarshal metadata: %w", err)
	}
	return m, nil
}

func writeMeta(path string, meta map[string]string) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("localdir: marshal metadata: %w", err)
	}
	return writeAtomic(path, data)
}
