// Package vault defines the store of unspent token states
// that flows query and notaries update.
package vault

import (
	"context"

	"tokenledger/errors"
	"tokenledger/math/checked"
	"tokenledger/token"
)

// ErrSpent is returned by Apply when an input of the proposal
// is not currently unspent.
var ErrSpent = errors.New("state already spent")

// Store holds unspent states.
type Store interface {
	// Unspent returns the unspent states held by owner and backed
	// by issuer. A zero Party matches any owner or issuer.
	// The order of the result is unspecified.
	Unspent(ctx context.Context, owner, issuer token.Party) ([]token.State, error)

	// Apply atomically consumes p's inputs and records p's outputs.
	// If any input is not unspent, or p was applied before,
	// nothing changes and the error's root is ErrSpent.
	Apply(ctx context.Context, p *token.Proposal) error
}

// Matches reports whether s satisfies an Unspent filter.
func Matches(s token.State, owner, issuer token.Party) bool {
	return (owner.IsZero() || s.Owner.Same(owner)) && (issuer.IsZero() || s.Issuer.Same(issuer))
}

// Balances sums the unspent states of owner per issuer.
// Issuers sharing a key are reported under the first party seen.
func Balances(ctx context.Context, st Store, owner token.Party) (map[token.Party]int64, error) {
	states, err := st.Unspent(ctx, owner, token.Party{})
	if err != nil {
		return nil, err
	}
	byKey := make(map[token.KeyID]token.Party)
	totals := make(map[token.Party]int64)
	for _, s := range states {
		iss, ok := byKey[s.Issuer.Key]
		if !ok {
			iss = s.Issuer
			byKey[iss.Key] = iss
		}
		t, ok := checked.AddInt64(totals[iss], s.Amount)
		if !ok {
			return nil, errors.Wrapf(checked.ErrOverflow, "balance of %s", iss)
		}
		totals[iss] = t
	}
	return totals, nil
}
