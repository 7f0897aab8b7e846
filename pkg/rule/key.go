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

package rule

import "encoding/hex"

// KeyLength is the fixed width of a RuleKey: 160 bits / 20 bytes, matching
// the manifest's on-wire entry format (spec §6) and the reference engine's
// SHA-1-sized digest.
const KeyLength = 20

// Key is a fixed-width hash identifying a specific rule invocation under a
// specific notion of "sameness". The four kinds (Default, InputBased,
// DepFile, Manifest) share this type; callers track which kind they hold by
// context, same as the reference design (spec §3).
type Key [KeyLength]byte

// Kind distinguishes the four rule-key variants for logging and for the
// engine's most-specific-hit preference order.
type Kind int

const (
	KindDefault Kind = iota
	KindInputBased
	KindDepFile
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindInputBased:
		return "input-based"
	case KindDepFile:
		return "dep-file"
	case KindManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// IsZero reports whether k is the zero key (never a legitimate hash output
// in practice, used as a sentinel for "not computed").
func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the key's raw bytes.
func (k Key) Bytes() []byte {
	return k[:]
}

// KeyFromBytes builds a Key from a 20-byte slice, as read back from a
// manifest file or BuildInfo record.
func KeyFromBytes(b []byte) (Key, bool) {
	if len(b) != KeyLength {
		return Key{}, false
	}
	var k Key
	copy(k[:], b)
	return k, true
}

// KeyFromHex parses a hex-encoded rule key, as persisted in BuildInfo's
// RULE_KEY/INPUT_BASED_RULE_KEY/... text files.
func KeyFromHex(s string) (Key, bool) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, false
	}
	return KeyFromBytes(b)
}
