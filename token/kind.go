package token

import "fmt"

// Kind is the transition a proposal performs.
// The set of kinds is closed: Issue, Move and Redeem.
type Kind uint8

const (
	// Issue creates new value backed by the issuer.
	Issue Kind = iota + 1
	// Move transfers value from one owner to others.
	Move
	// Redeem destroys value.
	Redeem
)

var kindNames = [...]string{
	Issue:  "issue",
	Move:   "move",
	Redeem: "redeem",
}

// Valid reports whether k is one of the three kinds.
func (k Kind) Valid() bool {
	return k >= Issue && k <= Redeem
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText satisfies the TextMarshaler interface.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText satisfies the TextUnmarshaler interface.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name != "" && name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", b)
}
