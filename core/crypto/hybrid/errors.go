// errors.go - Hybrid encryption errors.
// Copyright (C) 2026  The onionrelay authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package hybrid

import "errors"

var (
	// ErrKeyFormat is the error returned when key material is malformed,
	// too weak, or when a public and private key do not form a pair.
	ErrKeyFormat = errors.New("hybrid: invalid key material")

	// ErrDecryption is the error returned when an envelope cannot be
	// opened: bad framing, a failed key unwrap or a failed authentication
	// tag.  It never comes with partial plaintext.
	ErrDecryption = errors.New("hybrid: decryption failed")
)
