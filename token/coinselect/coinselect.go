// Package coinselect picks unspent records to cover a transfer
// and builds the Move proposal that spends them.
package coinselect

import (
	"fmt"

	"tokenledger/errors"
	"tokenledger/math/checked"
	"tokenledger/token"
	"tokenledger/token/validation"
)

var (
	// ErrNoMatchingRecords is returned when the pool holds no
	// positive record of the requested issuer and owner.
	ErrNoMatchingRecords = errors.New("no matching records")
	// ErrInsufficientFunds is returned when the matching records
	// together are worth less than the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Selection is the result of Select.
type Selection struct {
	Proposal *token.Proposal
	// Total is the sum of the selected inputs.
	Total int64
	// Change is what returns to the original owner, Total - amount.
	Change int64
}

// Select walks pool in the order given and takes records of issuer
// held by originalOwner until their cumulative amount reaches amount.
// It returns a Move proposal paying amount to newOwner, plus a change
// record back to originalOwner when the selected total exceeds amount.
// Records of other issuers or owners, and records with no value,
// are skipped.
//
// Select panics if amount is not positive or a party has no key.
// Callers are expected to check user input first.
func Select(pool []token.State, issuer token.Party, amount int64, newOwner, originalOwner token.Party) (*Selection, error) {
	if amount <= 0 {
		panic(fmt.Sprintf("coinselect: non-positive amount %d", amount))
	}
	if issuer.IsZero() || newOwner.IsZero() || originalOwner.IsZero() {
		panic("coinselect: party has no key")
	}

	var (
		inputs []token.State
		total  int64
		found  bool
	)
	for _, s := range pool {
		if !s.Issuer.Same(issuer) || !s.Owner.Same(originalOwner) || s.Amount <= 0 {
			continue
		}
		found = true
		var ok bool
		total, ok = checked.AddInt64(total, s.Amount)
		if !ok {
			return nil, errors.Wrapf(checked.ErrOverflow, "summing %d selected records", len(inputs)+1)
		}
		inputs = append(inputs, s)
		if total >= amount {
			break
		}
	}
	if !found {
		return nil, errors.WithDetailf(ErrNoMatchingRecords, "issuer %s owner %s", issuer, originalOwner)
	}
	if total < amount {
		return nil, errors.WithDetailf(ErrInsufficientFunds, "have %d want %d", total, amount)
	}

	outputs := []token.Record{token.NewRecord(issuer, newOwner, amount)}
	change := total - amount
	if change > 0 {
		outputs = append(outputs, token.NewRecord(issuer, originalOwner, change))
	}
	p := &token.Proposal{
		Kind:    token.Move,
		Inputs:  inputs,
		Outputs: outputs,
		Signers: []token.KeyID{originalOwner.Key},
	}
	if err := validation.Validate(p); err != nil {
		panic(fmt.Sprintf("coinselect: built invalid proposal: %v", err))
	}
	return &Selection{Proposal: p, Total: total, Change: change}, nil
}
