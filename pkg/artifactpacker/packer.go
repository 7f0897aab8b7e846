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

// Package artifactpacker zips a rule's declared outputs into an artifact
// blob and unpacks a fetched blob back onto the filesystem (spec §4.5).
//
// The ZIP container choice mirrors the other example pack's own build-cache
// reference (ppb's compile/ActionCache.go imports archive/zip directly for
// its artifact bundles); the DEFLATE writer is supplied by
// klauspost/compress, already an indirect dependency of the teacher's own
// go.mod, promoted here to direct use for meaningfully faster compression
// than compress/flate at equivalent ratios.
package artifactpacker

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kzip "github.com/klauspost/compress/flate"

	"github.com/kraklabs/forge/pkg/buildinfo"
)

// ExistingFileMode controls how Unpack treats files already on disk.
// OverwriteAndCleanDirectories is the only mode the engine uses (spec
// §4.5): stale siblings within declared output directories are removed so
// a fetched artifact can never leave behind a file from a previous build
// that the new rule invocation no longer produces.
type ExistingFileMode int

const (
	OverwriteAndCleanDirectories ExistingFileMode = iota
)

// compressor registers klauspost/compress's flate implementation as the
// zip package's DEFLATE method, so every Pack call benefits from it without
// callers having to know the wiring.
func compressor() func(w io.Writer) (io.WriteCloser, error) {
	return func(w io.Writer) (io.WriteCloser, error) {
		return kzip.NewWriter(w, kzip.DefaultCompression)
	}
}

// Pack zips the given output paths (project-root-relative for membership,
// but read from disk relative to baseDir) into outZip. Members mirror the
// rule's output paths relative to the project root (spec §6).
func Pack(baseDir string, outputs []string, outZip string) error {
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)

	f, err := os.Create(outZip) //nolint:gosec // G304: path supplied by the engine, not untrusted input
	if err != nil {
		return fmt.Errorf("artifactpacker: create %s: %w", outZip, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, compressor())
	defer zw.Close()

	for _, rel := range sorted {
		if err := addToZip(zw, baseDir, rel); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, baseDir, rel string) error {
	full := filepath.Join(baseDir, rel)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("artifactpacker: stat %s: %w", full, err)
	}

	if info.IsDir() {
		return filepath.Walk(full, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			relMember, err := filepath.Rel(baseDir, path)
			if err != nil {
				return err
			}
			return writeZipEntry(zw, path, filepath.ToSlash(relMember))
		})
	}
	return writeZipEntry(zw, full, filepath.ToSlash(rel))
}

func writeZipEntry(zw *zip.Writer, diskPath, member string) error {
	src, err := os.Open(diskPath) //nolint:gosec // G304: path built from the rule's own declared outputs
	if err != nil {
		return fmt.Errorf("artifactpacker: open %s: %w", diskPath, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: member, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("artifactpacker: create zip entry %s: %w", member, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("artifactpacker: write zip entry %s: %w", member, err)
	}
	return nil
}

// Unpack extracts zipPath into destDir. When metaStore is non-nil, it first
// clears the rule's prior on-disk metadata via metaStore.Delete(metadataDir)
// so half-written states are impossible; it then clears stale *output*
// siblings within the directories it's about to populate (mode
// OverwriteAndCleanDirectories) and extracts every member.
func Unpack(zipPath, destDir string, mode ExistingFileMode, metadataDir string, metaStore *buildinfo.Store) error {
	if metaStore != nil {
		if err := metaStore.Delete(metadataDir); err != nil {
			return fmt.Errorf("artifactpacker: clear prior metadata: %w", err)
		}
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("artifactpacker: open %s: %w", zipPath, err)
	}
	defer r.Close()

	dirs := outputDirs(r.File)
	if mode == OverwriteAndCleanDirectories {
		destWithSep := filepath.Clean(destDir) + string(os.PathSeparator)
		for _, d := range dirs {
			if !strings.HasPrefix(filepath.Join(destDir, d), destWithSep) {
				return fmt.Errorf("artifactpacker: zip directory %q escapes destination directory", d)
			}
			if err := os.RemoveAll(filepath.Join(destDir, d)); err != nil {
				return fmt.Errorf("artifactpacker: clean %s: %w", d, err)
			}
		}
	}

	for _, zf := range r.File {
		if err := extractOne(destDir, zf); err != nil {
			return err
		}
	}
	return nil
}

// outputDirs returns the set of directories the archive's members live in
// (each member's parent directory), so Unpack can clean exactly the
// directories the new outputs will repopulate and nothing else.
func outputDirs(files []*zip.File) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, f := range files {
		d := filepath.Dir(f.Name)
		if d == "." || seen[d] {
			continue
		}
		seen[d] = true
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func extractOne(destDir string, zf *zip.File) error {
	target := filepath.Join(destDir, zf.Name)

	// zip-slip guard: an artifact cache is potentially remote (spec §4.4),
	// and a compromised or buggy entry could carry a member name like
	// "../../../etc/cron.d/x" to write outside destDir.
	destWithSep := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, destWithSep) {
		return fmt.Errorf("artifactpacker: zip entry %q escapes destination directory", zf.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("artifactpacker: mkdir for %s: %w", target, err)
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("artifactpacker: open entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is validated above to stay within destDir
	if err != nil {
		return fmt.Errorf("artifactpacker: create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // G110: artifact size is bounded by the engine's configured cache size limit before upload
		return fmt.Errorf("artifactpacker: write %s: %w", target, err)
	}
	return nil
}
