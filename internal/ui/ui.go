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

// Package ui is forgectl's terminal output layer: colored status lines when
// stdout is a TTY, plain text otherwise. Color policy is centralized here
// so every command renders consistently.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	subHeadColor = color.New(color.FgCyan)
	labelColor   = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
	countColor   = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgBlue)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// InitColors enables or disables color output. Call once at startup with
// the CLI's --no-color flag (already OR'd with the NO_COLOR env var by the
// caller); color is also disabled here when stdout is not a TTY.
func InitColors(disable bool) {
	color.NoColor = disable || !isatty.IsTerminal(os.Stdout.Fd())
}

// Header prints a top-level section title.
func Header(title string) {
	fmt.Println(headerColor.Sprint(title))
}

// SubHeader prints a secondary section title.
func SubHeader(title string) {
	fmt.Println(subHeadColor.Sprint(title))
}

// Label renders a field label for use inline with fmt.Printf.
func Label(text string) string {
	return labelColor.Sprint(text)
}

// DimText renders de-emphasized text, e.g. a filesystem path.
func DimText(text string) string {
	return dimColor.Sprint(text)
}

// CountText renders a numeric count, highlighted.
func CountText(n int) string {
	return countColor.Sprintf("%d", n)
}

// Info prints an informational line.
func Info(msg string) {
	fmt.Println(infoColor.Sprint(msg))
}

// Infof is Info with formatting.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

// Success prints a success line.
func Success(msg string) {
	fmt.Println(successColor.Sprint(msg))
}

// Successf is Success with formatting.
func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line to stderr.
func Warning(msg string) {
	fmt.Fprintln(os.Stderr, warningColor.Sprint(msg))
}

// Warningf is Warning with formatting.
func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

// ErrorLabel renders an error message for ferrors.Error.Format.
func ErrorLabel(msg string) string {
	return errorColor.Sprint(msg)
}

// Hint renders a suggestion line for ferrors.Error.Format.
func Hint(msg string) string {
	return dimColor.Sprint(msg)
}
