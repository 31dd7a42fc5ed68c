package token

import (
	"encoding/binary"
	"fmt"

	"tokenledger/errors"
)

// ErrBadEncoding is returned when decoding a malformed record.
var ErrBadEncoding = errors.New("bad record encoding")

// Record is a quantity of issuer-backed value held by an owner.
// Records are values: two records are the same record
// when issuer, owner and amount are all equal.
// A record is never changed; spending consumes it
// and produces new records.
type Record struct {
	Issuer Party `json:"issuer"`
	Owner  Party `json:"owner"`
	Amount int64 `json:"amount"`
}

// NewRecord returns a record for builders that have already checked
// their input. It panics when a party has no key or amount is negative.
// Records that fail these checks can still be written as literals,
// so that the validator sees and rejects them.
func NewRecord(issuer, owner Party, amount int64) Record {
	if issuer.IsZero() {
		panic("token: record issuer has no key")
	}
	if owner.IsZero() {
		panic("token: record owner has no key")
	}
	if amount < 0 {
		panic(fmt.Sprintf("token: negative record amount %d", amount))
	}
	return Record{Issuer: issuer, Owner: owner, Amount: amount}
}

// Participants returns the parties that must see r: the issuer,
// then the owner.
func (r Record) Participants() []Party {
	return []Party{r.Issuer, r.Owner}
}

func (r Record) String() string {
	return fmt.Sprintf("Record{issuer=%s, owner=%s, amount=%d}", r.Issuer, r.Owner, r.Amount)
}

// MarshalBinary encodes r as
// issuer name, issuer key, owner name, owner key, amount,
// with names prefixed by their uvarint length and the amount
// as 8 big-endian bytes.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.appendBinary(nil), nil
}

func (r Record) appendBinary(b []byte) []byte {
	b = appendParty(b, r.Issuer)
	b = appendParty(b, r.Owner)
	return binary.BigEndian.AppendUint64(b, uint64(r.Amount))
}

func appendParty(b []byte, p Party) []byte {
	b = binary.AppendUvarint(b, uint64(len(p.Name)))
	b = append(b, p.Name...)
	return append(b, p.Key[:]...)
}

// UnmarshalBinary decodes the format written by MarshalBinary.
func (r *Record) UnmarshalBinary(b []byte) error {
	var err error
	if r.Issuer, b, err = readParty(b); err != nil {
		return errors.Wrap(err, "issuer")
	}
	if r.Owner, b, err = readParty(b); err != nil {
		return errors.Wrap(err, "owner")
	}
	if len(b) != 8 {
		return errors.WithDetailf(ErrBadEncoding, "amount has %d bytes", len(b))
	}
	r.Amount = int64(binary.BigEndian.Uint64(b))
	return nil
}

func readParty(b []byte) (p Party, rest []byte, err error) {
	n, k := binary.Uvarint(b)
	if k <= 0 || n > uint64(len(b)-k) || uint64(len(b)-k)-n < uint64(len(p.Key)) {
		return p, nil, errors.Wrap(ErrBadEncoding, "truncated party")
	}
	b = b[k:]
	p.Name = string(b[:n])
	b = b[n:]
	copy(p.Key[:], b)
	return p, b[len(p.Key):], nil
}
