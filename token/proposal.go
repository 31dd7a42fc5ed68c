package token

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"tokenledger/errors"
)

// ErrBadRef is returned when parsing a malformed Ref.
var ErrBadRef = errors.New("bad state reference")

// Ref identifies one produced record: the proposal that
// created it and its position among that proposal's outputs.
// Structurally equal records are told apart by their refs.
type Ref struct {
	TxID  Hash
	Index uint32
}

// RefSize is the length of Ref.Bytes.
const RefSize = 36

// Bytes returns the TxID followed by the big-endian index.
func (r Ref) Bytes() []byte {
	b := make([]byte, 0, RefSize)
	b = append(b, r.TxID[:]...)
	return binary.BigEndian.AppendUint32(b, r.Index)
}

// RefFromBytes is the inverse of Ref.Bytes.
func RefFromBytes(b []byte) (Ref, error) {
	var r Ref
	if len(b) != RefSize {
		return r, errors.WithDetailf(ErrBadRef, "got %d bytes", len(b))
	}
	copy(r.TxID[:], b)
	r.Index = binary.BigEndian.Uint32(b[32:])
	return r, nil
}

func (r Ref) String() string {
	return r.TxID.String() + ":" + strconv.FormatUint(uint64(r.Index), 10)
}

// MarshalText encodes r as txid:index.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes txid:index.
func (r *Ref) UnmarshalText(b []byte) error {
	s := string(b)
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return errors.WithDetailf(ErrBadRef, "missing index in %q", s)
	}
	if err := r.TxID.UnmarshalText([]byte(s[:i])); err != nil {
		return errors.Sub(ErrBadRef, err)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return errors.Sub(ErrBadRef, err)
	}
	r.Index = uint32(n)
	return nil
}

// State is an unspent record together with its ref.
type State struct {
	Ref Ref `json:"ref"`
	Record
}

// Proposal is an assembled state transition: the states it consumes,
// the records it creates, its kind, and the keys that must sign it.
type Proposal struct {
	Kind    Kind     `json:"kind"`
	Inputs  []State  `json:"inputs"`
	Outputs []Record `json:"outputs"`
	Signers []KeyID  `json:"signers"`

	// Salt distinguishes otherwise identical proposals,
	// such as two equal issuances. It has no other meaning.
	Salt []byte `json:"salt,omitempty"`
}

// InputRecords returns the records of p's inputs.
func (p *Proposal) InputRecords() []Record {
	recs := make([]Record, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		recs = append(recs, in.Record)
	}
	return recs
}

// SignerSet returns the distinct keys in p.Signers.
func (p *Proposal) SignerSet() map[KeyID]struct{} {
	set := make(map[KeyID]struct{}, len(p.Signers))
	for _, k := range p.Signers {
		set[k] = struct{}{}
	}
	return set
}

// sortedSigners returns the signer set in byte order.
func (p *Proposal) sortedSigners() []KeyID {
	keys := make([]KeyID, 0, len(p.Signers))
	for k := range p.SignerSet() {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// ID returns the SHA3-256 hash of p's canonical encoding.
// It covers the kind, every input ref and record, every output
// record in order, the signer set (order and duplicates
// do not matter) and the salt. Signers sign ID; produced states are
// referenced by it.
// ID panics if p.Kind is not valid.
func (p *Proposal) ID() Hash {
	if !p.Kind.Valid() {
		panic(fmt.Sprintf("token: proposal has invalid kind %d", uint8(p.Kind)))
	}

	b := []byte("tokenledger/proposal/v1")
	b = append(b, byte(p.Kind))
	b = binary.AppendUvarint(b, uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		b = append(b, in.Ref.Bytes()...)
		b = in.Record.appendBinary(b)
	}
	b = binary.AppendUvarint(b, uint64(len(p.Outputs)))
	for _, out := range p.Outputs {
		b = out.appendBinary(b)
	}
	signers := p.sortedSigners()
	b = binary.AppendUvarint(b, uint64(len(signers)))
	for _, k := range signers {
		b = append(b, k[:]...)
	}
	b = binary.AppendUvarint(b, uint64(len(p.Salt)))
	b = append(b, p.Salt...)
	return Hash(sha3.Sum256(b))
}

// OutputStates returns p's outputs as states referenced by p.ID().
func (p *Proposal) OutputStates() []State {
	if len(p.Outputs) == 0 {
		return nil
	}
	id := p.ID()
	states := make([]State, 0, len(p.Outputs))
	for i, out := range p.Outputs {
		states = append(states, State{Ref: Ref{TxID: id, Index: uint32(i)}, Record: out})
	}
	return states
}
