package boltvault

import (
	"context"
	"path/filepath"
	"testing"

	"tokenledger/testutil"
	"tokenledger/token"
	"tokenledger/vault/vaulttest"
)

func open(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "sub", "tokens.db"))
	if err != nil {
		testutil.FatalErr(t, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	vaulttest.Run(t, open(t))
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(path)
	if err != nil {
		testutil.FatalErr(t, err)
	}

	var iss, own token.Party
	iss.Key[0], own.Key[0] = 1, 2
	p := &token.Proposal{
		Kind:    token.Issue,
		Outputs: []token.Record{token.NewRecord(iss, own, 5)},
		Signers: []token.KeyID{iss.Key},
	}
	err = s.Apply(ctx, p)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	defer s.Close()
	got, err := s.Unspent(ctx, own, iss)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	testutil.ExpectEqual(t, got, p.OutputStates(), "states after reopen")
}

func TestSpentBy(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	var iss, own token.Party
	iss.Key[0], own.Key[0] = 1, 2
	issue := &token.Proposal{
		Kind:    token.Issue,
		Outputs: []token.Record{token.NewRecord(iss, own, 5)},
		Signers: []token.KeyID{iss.Key},
	}
	redeem := &token.Proposal{
		Kind:    token.Redeem,
		Inputs:  issue.OutputStates(),
		Signers: []token.KeyID{own.Key, iss.Key},
	}
	for _, p := range []*token.Proposal{issue, redeem} {
		if err := s.Apply(ctx, p); err != nil {
			testutil.FatalErr(t, err)
		}
	}

	id, ok, err := s.SpentBy(ctx, redeem.Inputs[0].Ref)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	if !ok || id != redeem.ID() {
		t.Errorf("SpentBy = %s, %v want %s, true", id, ok, redeem.ID())
	}
	_, ok, _ = s.SpentBy(ctx, token.Ref{Index: 9})
	if ok {
		t.Error("unknown ref reported spent")
	}
}
