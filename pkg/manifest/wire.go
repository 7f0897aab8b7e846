// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package manifest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"

	"github.com/kraklabs/forge/pkg/rule"
)

// Serialize writes the manifest in the stable binary form required by
// spec §6: `u32 size` followed by `size` entries, each `u32 n_inputs`
// followed by `n_inputs` `(u16 path_len, path, 20-byte hash)` tuples, then
// a 20-byte rule key. The whole stream is GZIP-compressed on the wire
// using klauspost/compress for a faster encoder than compress/gzip at the
// same format.
func (m *Manifest) Serialize(w io.Writer) error {
	gw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("manifest: new gzip writer: %w", err)
	}
	defer gw.Close()

	bw := bufio.NewWriter(gw)
	if err := writeUint32(bw, uint32(len(m.entries))); err != nil {
		return err
	}
	for _, e := range m.entries {
		if err := writeEntry(bw, e); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("manifest: flush: %w", err)
	}
	return gw.Close()
}

func writeEntry(w io.Writer, e Entry) error {
	if err := writeUint32(w, uint32(len(e.Inputs))); err != nil {
		return err
	}
	for _, in := range e.Inputs {
		if len(in.Path) > math.MaxUint16 {
			return fmt.Errorf("manifest: path %q exceeds u16 length limit", in.Path)
		}
		if err := writeUint16(w, uint16(len(in.Path))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, in.Path); err != nil {
			return fmt.Errorf("manifest: write path: %w", err)
		}
		if _, err := w.Write(in.Hash[:]); err != nil {
			return fmt.Errorf("manifest: write tuple hash: %w", err)
		}
	}
	if _, err := w.Write(e.Key[:]); err != nil {
		return fmt.Errorf("manifest: write rule key: %w", err)
	}
	return nil
}

// Deserialize reads a manifest previously written by Serialize, replacing
// the in-memory entry list entirely.
func Deserialize(r io.Reader) (*Manifest, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: new gzip reader: %w", err)
	}
	defer gr.Close()

	br := bufio.NewReader(gr)
	size, err := readUint32(br)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, size)
	for i := uint32(0); i < size; i++ {
		e, err := readEntry(br)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &Manifest{entries: entries}, nil
}

func readEntry(r io.Reader) (Entry, error) {
	nInputs, err := readUint32(r)
	if err != nil {
		return Entry{}, err
	}

	inputs := make([]TupleInput, 0, nInputs)
	for i := uint32(0); i < nInputs; i++ {
		pathLen, err := readUint16(r)
		if err != nil {
			return Entry{}, err
		}
		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return Entry{}, fmt.Errorf("manifest: read path: %w", err)
		}
		var hash [TupleHashLength]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return Entry{}, fmt.Errorf("manifest: read tuple hash: %w", err)
		}
		inputs = append(inputs, TupleInput{Path: string(pathBuf), Hash: hash})
	}

	var key rule.Key
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return Entry{}, fmt.Errorf("manifest: read rule key: %w", err)
	}
	return Entry{Inputs: inputs, Key: key}, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("manifest: write u32: %w", err)
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("manifest: read u32: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("manifest: write u16: %w", err)
	}
	return nil
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("manifest: read u16: %w", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
