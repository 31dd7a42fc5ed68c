// Package vaulttest checks that a vault.Store behaves as flows expect.
package vaulttest

import (
	"context"
	"sort"
	"testing"

	"tokenledger/errors"
	"tokenledger/testutil"
	"tokenledger/token"
	"tokenledger/vault"
)

func party(name string, b byte) token.Party {
	var k token.KeyID
	k[0] = b
	return token.Party{Name: name, Key: k}
}

var (
	issuer  = party("O=Issuer,L=London,C=GB", 1)
	issuer2 = party("O=Issuer2,L=Zurich,C=CH", 2)
	alice   = party("O=Alice,L=Paris,C=FR", 3)
	bob     = party("O=Bob,L=Rome,C=IT", 4)

	// renamed holds issuer's key under another name.
	renamed = party("O=Issuer Renamed,L=London,C=GB", 1)
)

func sorted(states []token.State) []token.State {
	sort.Slice(states, func(i, j int) bool {
		return string(states[i].Ref.Bytes()) < string(states[j].Ref.Bytes())
	})
	return states
}

func unspent(t *testing.T, st vault.Store, owner, iss token.Party) []token.State {
	t.Helper()
	states, err := st.Unspent(context.Background(), owner, iss)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	return sorted(states)
}

// Run exercises a fresh, empty store.
func Run(t *testing.T, st vault.Store) {
	ctx := context.Background()

	issue := &token.Proposal{
		Kind:    token.Issue,
		Outputs: []token.Record{token.NewRecord(issuer, alice, 10)},
		Signers: []token.KeyID{issuer.Key},
	}
	issue2 := &token.Proposal{
		Kind:    token.Issue,
		Outputs: []token.Record{token.NewRecord(issuer2, alice, 3)},
		Signers: []token.KeyID{issuer2.Key},
	}
	for _, p := range []*token.Proposal{issue, issue2} {
		if err := st.Apply(ctx, p); err != nil {
			testutil.FatalErr(t, err)
		}
	}

	testutil.ExpectEqual(t, unspent(t, st, alice, issuer), issue.OutputStates(), "alice's issuer states")
	testutil.ExpectEqual(t, unspent(t, st, alice, renamed), issue.OutputStates(), "alice's states by issuer key")
	testutil.ExpectEqual(t, len(unspent(t, st, alice, token.Party{})), 2, "alice's states")
	testutil.ExpectEqual(t, len(unspent(t, st, token.Party{}, token.Party{})), 2, "all states")
	testutil.ExpectEqual(t, len(unspent(t, st, bob, token.Party{})), 0, "bob's states")

	testutil.ExpectError(t, vault.ErrSpent, "replayed issue", func() error {
		return st.Apply(ctx, issue)
	})

	move := &token.Proposal{
		Kind:    token.Move,
		Inputs:  issue.OutputStates(),
		Outputs: []token.Record{token.NewRecord(issuer, bob, 4), token.NewRecord(issuer, alice, 6)},
		Signers: []token.KeyID{alice.Key},
	}
	if err := st.Apply(ctx, move); err != nil {
		testutil.FatalErr(t, err)
	}
	testutil.ExpectEqual(t, unspent(t, st, bob, issuer), move.OutputStates()[:1], "bob after move")

	bal, err := vault.Balances(ctx, st, alice)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	testutil.ExpectEqual(t, bal, map[token.Party]int64{issuer: 6, issuer2: 3}, "alice balances")

	// Spending the issued state again must fail and change nothing.
	double := &token.Proposal{
		Kind:    token.Move,
		Inputs:  append(move.OutputStates()[1:], issue.OutputStates()...),
		Outputs: []token.Record{token.NewRecord(issuer, bob, 16)},
		Signers: []token.KeyID{alice.Key},
	}
	testutil.ExpectError(t, vault.ErrSpent, "double spend", func() error {
		return st.Apply(ctx, double)
	})
	testutil.ExpectEqual(t, unspent(t, st, alice, issuer), move.OutputStates()[1:], "alice after failed double spend")

	// An input whose record differs from the stored one is not unspent.
	forged := move.OutputStates()[1]
	forged.Amount = 600
	testutil.ExpectError(t, vault.ErrSpent, "forged input", func() error {
		return st.Apply(ctx, &token.Proposal{
			Kind:    token.Redeem,
			Inputs:  []token.State{forged},
			Signers: []token.KeyID{alice.Key, issuer.Key},
		})
	})

	redeem := &token.Proposal{
		Kind:    token.Redeem,
		Inputs:  unspent(t, st, alice, token.Party{}),
		Signers: []token.KeyID{alice.Key, issuer.Key, issuer2.Key},
	}
	if err := st.Apply(ctx, redeem); err != nil {
		testutil.FatalErr(t, err)
	}
	testutil.ExpectEqual(t, len(unspent(t, st, alice, token.Party{})), 0, "alice after redeem")
	if err := errors.Root(st.Apply(ctx, redeem)); err != vault.ErrSpent {
		t.Errorf("second redeem err = %v want %v", err, vault.ErrSpent)
	}
}
