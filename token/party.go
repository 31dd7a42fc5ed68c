package token

import (
	"crypto/ed25519"
	"database/sql/driver"
	"encoding/hex"
)

// KeyID is the ed25519 public key a party signs with.
type KeyID [ed25519.PublicKeySize]byte

// KeyOf returns the KeyID of pub.
// It panics if pub is not an ed25519 public key.
func KeyOf(pub ed25519.PublicKey) (k KeyID) {
	if len(pub) != len(k) {
		panic("token: bad ed25519 public key length")
	}
	copy(k[:], pub)
	return k
}

// PublicKey returns k as an ed25519 public key.
func (k KeyID) PublicKey() ed25519.PublicKey { return ed25519.PublicKey(k[:]) }

func (k KeyID) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether k is unset.
func (k KeyID) IsZero() bool { return k == KeyID{} }

func (k KeyID) MarshalText() ([]byte, error) { return marshalHex32(k), nil }
func (k *KeyID) UnmarshalText(b []byte) error { return unmarshalHex32((*[32]byte)(k), b) }
func (k *KeyID) UnmarshalJSON(b []byte) error { return unmarshalJSON32((*[32]byte)(k), b) }
func (k KeyID) Value() (driver.Value, error) { return k[:], nil }
func (k *KeyID) Scan(val interface{}) error { return scan32((*[32]byte)(k), val) }

// Party is a network identity and the key it owns.
// Two parties are the same identity when their keys are equal;
// Name is a display label only.
type Party struct {
	Name string `json:"name"`
	Key  KeyID  `json:"key"`
}

// Same reports whether p and q are the same identity.
func (p Party) Same(q Party) bool { return p.Key == q.Key }

// IsZero reports whether p carries no signing key.
func (p Party) IsZero() bool { return p.Key.IsZero() }

func (p Party) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Key.String()
}
