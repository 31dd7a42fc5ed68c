package flow_test

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"tokenledger/core/reserve"
	"tokenledger/errors"
	"tokenledger/flow"
	"tokenledger/flow/flowtest"
	"tokenledger/testutil"
	"tokenledger/token"
	"tokenledger/token/validation"
	"tokenledger/vault"
	"tokenledger/vault/boltvault"
)

type env struct {
	svc    *flow.Service
	keys   *flowtest.Keyring
	notary *flowtest.Notary
	vault  vault.Store

	issuer, alice, bob token.Party
}

func newEnv(t *testing.T, withReserver bool) *env {
	st, err := boltvault.Open(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		testutil.FatalErr(t, err)
	}
	t.Cleanup(func() { st.Close() })

	e := &env{keys: new(flowtest.Keyring), vault: st}
	e.notary = &flowtest.Notary{Vault: st}
	e.svc = &flow.Service{Vault: st, Signer: e.keys, Notary: e.notary}
	if withReserver {
		e.svc.Reserver = reserve.New(st)
	}
	e.issuer = e.keys.NewParty("O=Issuer,L=London,C=GB")
	e.alice = e.keys.NewParty("O=Alice,L=Paris,C=FR")
	e.bob = e.keys.NewParty("O=Bob,L=Rome,C=IT")
	return e
}

func (e *env) balance(t *testing.T, p token.Party) int64 {
	bal, err := vault.Balances(context.Background(), e.vault, p)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	return bal[e.issuer]
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	var seen []flow.Stage
	e.svc.Observer = func(s flow.Stage) { seen = append(seen, s) }

	signed, err := e.svc.Issue(ctx, e.issuer, e.alice, 100)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	if err := signed.Verify(); err != nil {
		t.Fatal(err)
	}
	want := []flow.Stage{flow.Generating, flow.Verifying, flow.Signing, flow.Gathering, flow.Finalising, flow.Done}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("stages = %v want %v", seen, want)
	}
	if got := e.balance(t, e.alice); got != 100 {
		t.Errorf("alice balance = %d want 100", got)
	}

	// An equal second issuance is a distinct proposal.
	_, err = e.svc.Issue(ctx, e.issuer, e.alice, 100)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	if got := e.balance(t, e.alice); got != 200 {
		t.Errorf("alice balance = %d want 200", got)
	}
}

func TestIssueBadInput(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	cases := []struct {
		desc    string
		issuer  token.Party
		owner   token.Party
		amount  int64
		wantErr error
	}{
		{"zero amount", e.issuer, e.alice, 0, flow.ErrBadAmount},
		{"negative amount", e.issuer, e.alice, -1, flow.ErrBadAmount},
		{"keyless owner", e.issuer, token.Party{Name: "O=Nobody"}, 1, flow.ErrBadParty},
	}
	for _, c := range cases {
		_, err := e.svc.Issue(ctx, c.issuer, c.owner, c.amount)
		if errors.Root(err) != c.wantErr {
			t.Errorf("%s: err = %v want %v", c.desc, err, c.wantErr)
		}
	}
}

func TestIssueToSelfRejected(t *testing.T) {
	e := newEnv(t, false)
	_, err := e.svc.Issue(context.Background(), e.issuer, e.issuer, 5)
	if !errors.Is(err, validation.ErrRejected) {
		t.Fatalf("err = %v want rejection", err)
	}
	if len(e.notary.Log) != 0 {
		t.Error("rejected proposal reached the notary")
	}
}

func TestMove(t *testing.T) {
	for _, withReserver := range []bool{false, true} {
		ctx := context.Background()
		e := newEnv(t, withReserver)
		for _, amt := range []int64{15, 10} {
			if _, err := e.svc.Issue(ctx, e.issuer, e.alice, amt); err != nil {
				testutil.FatalErr(t, err)
			}
		}

		signed, err := e.svc.Move(ctx, e.alice, e.issuer, 20, e.bob)
		if err != nil {
			testutil.FatalErr(t, err)
		}
		if n := len(signed.Proposal.Inputs); n != 2 {
			t.Errorf("reserver=%v: %d inputs want 2", withReserver, n)
		}
		if got := e.balance(t, e.bob); got != 20 {
			t.Errorf("reserver=%v: bob balance = %d want 20", withReserver, got)
		}
		if got := e.balance(t, e.alice); got != 5 {
			t.Errorf("reserver=%v: alice balance = %d want 5", withReserver, got)
		}

		_, err = e.svc.Move(ctx, e.alice, e.issuer, 6, e.bob)
		if errors.Root(err) != flow.ErrInsufficientFunds {
			t.Errorf("reserver=%v: err = %v want %v", withReserver, err, flow.ErrInsufficientFunds)
		}
	}
}

func TestMoveConcurrent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	for i := 0; i < 10; i++ {
		if _, err := e.svc.Issue(ctx, e.issuer, e.alice, 1); err != nil {
			testutil.FatalErr(t, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.Move(ctx, e.alice, e.issuer, 1, e.bob)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch errors.Root(err) {
		case nil:
			ok++
		case flow.ErrConflict:
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if got := e.balance(t, e.bob); got != int64(ok) {
		t.Errorf("bob balance = %d, %d moves succeeded", got, ok)
	}
	if got := e.balance(t, e.alice); got != int64(10-ok) {
		t.Errorf("alice balance = %d want %d", got, 10-ok)
	}
}

func TestMoveHoldsStatesThroughSweep(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	if _, err := e.svc.Issue(ctx, e.issuer, e.alice, 5); err != nil {
		testutil.FatalErr(t, err)
	}

	var swept bool
	e.svc.Observer = func(s flow.Stage) {
		if s != flow.Signing {
			return
		}
		swept = true
		e.svc.Reserver.ExpireReservations(ctx, time.Now())
		_, err := e.svc.Reserver.Reserve(ctx, reserve.Request{
			Issuer:   e.issuer,
			Owner:    e.alice,
			NewOwner: e.bob,
			Amount:   5,
		})
		if errors.Root(err) != reserve.ErrReserved {
			t.Errorf("reserve during move err = %v want %v", err, reserve.ErrReserved)
		}
	}
	if _, err := e.svc.Move(ctx, e.alice, e.issuer, 5, e.bob); err != nil {
		testutil.FatalErr(t, err)
	}
	if !swept {
		t.Fatal("observer never saw the signing stage")
	}
	if got := e.balance(t, e.bob); got != 5 {
		t.Errorf("bob balance = %d want 5", got)
	}
}

func TestNotaryConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	if _, err := e.svc.Issue(ctx, e.issuer, e.alice, 5); err != nil {
		testutil.FatalErr(t, err)
	}
	signed, err := e.svc.Move(ctx, e.alice, e.issuer, 5, e.bob)
	if err != nil {
		testutil.FatalErr(t, err)
	}
	testutil.ExpectError(t, flow.ErrConflict, "renotarise", func() error {
		return e.notary.Notarise(ctx, signed)
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	for _, amt := range []int64{5, 5, 7} {
		if _, err := e.svc.Issue(ctx, e.issuer, e.alice, amt); err != nil {
			testutil.FatalErr(t, err)
		}
	}

	five := token.NewRecord(e.issuer, e.alice, 5)
	signed, err := e.svc.Redeem(ctx, e.alice, []token.Record{five, five})
	if err != nil {
		testutil.FatalErr(t, err)
	}
	if signed.Proposal.Inputs[0].Ref == signed.Proposal.Inputs[1].Ref {
		t.Error("equal records matched the same state")
	}
	testutil.ExpectEqual(t, signed.Proposal.SignerSet(),
		map[token.KeyID]struct{}{e.alice.Key: {}, e.issuer.Key: {}}, "redeem signers")
	if got := e.balance(t, e.alice); got != 7 {
		t.Errorf("alice balance = %d want 7", got)
	}

	testutil.ExpectError(t, flow.ErrNotFound, "redeem spent record", func() error {
		_, err := e.svc.Redeem(ctx, e.alice, []token.Record{five})
		return err
	})
	testutil.ExpectError(t, flow.ErrBadAmount, "redeem nothing", func() error {
		_, err := e.svc.Redeem(ctx, e.alice, nil)
		return err
	})
	testutil.ExpectError(t, flow.ErrBadAmount, "redeem zero", func() error {
		_, err := e.svc.Redeem(ctx, e.alice, []token.Record{{Issuer: e.issuer, Owner: e.alice}})
		return err
	})
}

func TestSignedVerify(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	signed, err := e.svc.Issue(ctx, e.issuer, e.alice, 1)
	if err != nil {
		testutil.FatalErr(t, err)
	}

	bad := &flow.Signed{Proposal: signed.Proposal, Signatures: map[token.KeyID][]byte{}}
	testutil.ExpectError(t, flow.ErrBadSignature, "missing", bad.Verify)

	bad.Signatures[e.issuer.Key] = append([]byte(nil), signed.Signatures[e.issuer.Key]...)
	bad.Signatures[e.issuer.Key][0] ^= 1
	testutil.ExpectError(t, flow.ErrBadSignature, "corrupt", bad.Verify)

	extra := &flow.Signed{Proposal: signed.Proposal, Signatures: map[token.KeyID][]byte{
		e.issuer.Key: signed.Signatures[e.issuer.Key],
		e.alice.Key:  signed.Signatures[e.issuer.Key],
	}}
	testutil.ExpectError(t, flow.ErrBadSignature, "extra", extra.Verify)
}

func TestStageNames(t *testing.T) {
	if flow.Finalising.String() != "finalising" || flow.Done.Message() != "Done." {
		t.Errorf("unexpected stage text %s %q", flow.Finalising, flow.Done.Message())
	}
	if got := flow.Stage(42).String(); got != "Stage(42)" {
		t.Errorf("String() = %q", got)
	}
}
