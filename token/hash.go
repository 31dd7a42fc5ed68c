package token

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"tokenledger/errors"
)

// Hash is a SHA3-256 digest. It identifies proposals and,
// through Ref, the states they produce.
type Hash [32]byte

// String returns h encoded in hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText satisfies the TextMarshaler interface.
// It never returns an error.
func (h Hash) MarshalText() ([]byte, error) { return marshalHex32(h), nil }

// UnmarshalText satisfies the TextUnmarshaler interface.
func (h *Hash) UnmarshalText(b []byte) error { return unmarshalHex32((*[32]byte)(h), b) }

// UnmarshalJSON treats a JSON null as the zero hash.
func (h *Hash) UnmarshalJSON(b []byte) error { return unmarshalJSON32((*[32]byte)(h), b) }

// Value satisfies the driver.Valuer interface.
func (h Hash) Value() (driver.Value, error) { return h[:], nil }

// Scan satisfies the sql.Scanner interface.
func (h *Hash) Scan(val interface{}) error { return scan32((*[32]byte)(h), val) }

func marshalHex32(b32 [32]byte) []byte {
	b := make([]byte, hex.EncodedLen(len(b32)))
	hex.Encode(b, b32[:])
	return b
}

func unmarshalHex32(b32 *[32]byte, b []byte) error {
	if len(b) != hex.EncodedLen(len(b32)) {
		return errors.WithDetailf(
			fmt.Errorf("bad hex length %d", len(b)),
			"expected hex string of length %d, but got `%s`",
			hex.EncodedLen(len(b32)), b,
		)
	}
	_, err := hex.Decode(b32[:], b)
	return err
}

func unmarshalJSON32(b32 *[32]byte, b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*b32 = [32]byte{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return unmarshalHex32(b32, []byte(s))
}

func scan32(b32 *[32]byte, val interface{}) error {
	v, ok := val.([]byte)
	if !ok {
		return fmt.Errorf("scan: unsupported type %T", val)
	}
	if len(v) != len(b32) {
		return fmt.Errorf("scan: got %d bytes, want %d", len(v), len(b32))
	}
	copy(b32[:], v)
	return nil
}
