// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Bytes is the canonical byte-buffer representation at the boundary.
// Incoming JSON may carry hex or base64; outgoing JSON is always hex.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler. Hex is tried first, then
// standard base64.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithMessage(ErrBadRequest, "byte field must be a string")
	}
	if s == "" {
		*b = nil
		return nil
	}
	if decoded, err := hex.DecodeString(s); err == nil {
		*b = decoded
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		*b = decoded
		return nil
	}
	return errors.WithMessage(ErrBadRequest, "byte field is neither hex nor base64")
}
