// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBarQuietModeNeverErrorsOnUpdates(t *testing.T) {
	bar := NewBar(ProgressConfig{Quiet: true}, 10, "building")
	require.NoError(t, bar.Add(5))
	require.NoError(t, bar.Finish())
}

func TestNewBarVisibleModeTracksTotal(t *testing.T) {
	bar := NewBar(ProgressConfig{Quiet: false}, 3, "building")
	require.NoError(t, bar.Add(1))
	require.NoError(t, bar.Add(2))
	require.True(t, bar.IsFinished())
}
