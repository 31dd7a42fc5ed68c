// Package flow drives proposals from construction to a notarised
// result. A flow builds a proposal, checks it with the validator,
// collects the required signatures and hands it to a notary.
// Each step is a Stage, reported through a Tracker.
package flow

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tokenledger/core/reserve"
	"tokenledger/errors"
	"tokenledger/log"
	"tokenledger/metrics"
	"tokenledger/token"
	"tokenledger/token/coinselect"
	"tokenledger/token/validation"
	"tokenledger/vault"
)

var (
	// ErrBadAmount is returned for a non-positive amount
	// or an empty redemption.
	ErrBadAmount = errors.New("amount must be positive")
	// ErrBadParty is returned when a party has no key.
	ErrBadParty = errors.New("party has no key")
	// ErrInsufficientFunds is returned when the holder
	// does not hold enough tokens.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotFound is returned by Redeem when a record to redeem
	// is not among the holder's unspent states.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means another flow spent or reserved the
	// selected states first. The caller may retry.
	ErrConflict = errors.New("conflicting selection")
	// ErrBadSignature is returned by Signed.Verify.
	ErrBadSignature = errors.New("bad signature")
)

// Signer signs messages with the private key of a KeyID.
type Signer interface {
	Sign(ctx context.Context, key token.KeyID, msg []byte) ([]byte, error)
}

// Notary orders and records signed proposals. It returns an error
// whose root is ErrConflict when an input is already spent.
type Notary interface {
	Notarise(ctx context.Context, s *Signed) error
}

// Signed is a proposal with signatures over its ID.
type Signed struct {
	Proposal   *token.Proposal
	Signatures map[token.KeyID][]byte
}

// Verify checks that every required signer, and no one else,
// has signed s.Proposal.ID().
func (s *Signed) Verify() error {
	id := s.Proposal.ID()
	want := s.Proposal.SignerSet()
	for k := range want {
		sig, ok := s.Signatures[k]
		if !ok {
			return errors.WithDetailf(ErrBadSignature, "missing signature of %s", k)
		}
		if !ed25519.Verify(k.PublicKey(), id[:], sig) {
			return errors.WithDetailf(ErrBadSignature, "invalid signature of %s", k)
		}
	}
	for k := range s.Signatures {
		if _, ok := want[k]; !ok {
			return errors.WithDetailf(ErrBadSignature, "unexpected signature of %s", k)
		}
	}
	return nil
}

// Service runs issue, move and redeem flows.
type Service struct {
	Vault    vault.Store
	Signer   Signer
	Notary   Notary
	Reserver *reserve.Reserver // optional

	// ReservationTTL bounds how long a Move holds its states
	// in Reserver. Zero means DefaultReservationTTL.
	ReservationTTL time.Duration

	// Observer, if set, sees every stage of every flow.
	Observer func(Stage)
}

// DefaultReservationTTL is the hold on a Move's states when
// Service.ReservationTTL is unset.
const DefaultReservationTTL = time.Minute

func (f *Service) reservationTTL() time.Duration {
	if f.ReservationTTL > 0 {
		return f.ReservationTTL
	}
	return DefaultReservationTTL
}

// Issue creates amount new tokens of issuer, owned by owner.
func (f *Service) Issue(ctx context.Context, issuer, owner token.Party, amount int64) (*Signed, error) {
	if amount <= 0 {
		return nil, errors.WithDetailf(ErrBadAmount, "amount %d", amount)
	}
	if issuer.IsZero() || owner.IsZero() {
		return nil, errors.WithDetail(ErrBadParty, "issue")
	}
	ctx, err := withNewFlowID(ctx)
	if err != nil {
		return nil, err
	}
	tr := NewTracker(ctx, "issue", f.Observer)

	salt, err := randomBytes(16)
	if err != nil {
		return nil, errors.Wrap(err, "salt")
	}
	p := &token.Proposal{
		Kind:    token.Issue,
		Outputs: []token.Record{token.NewRecord(issuer, owner, amount)},
		Signers: []token.KeyID{issuer.Key},
		Salt:    salt,
	}
	return f.finish(ctx, tr, p, issuer.Key)
}

// Move transfers amount of issuer's tokens from holder to newOwner,
// returning change to holder.
func (f *Service) Move(ctx context.Context, holder, issuer token.Party, amount int64, newOwner token.Party) (*Signed, error) {
	if amount <= 0 {
		return nil, errors.WithDetailf(ErrBadAmount, "amount %d", amount)
	}
	if holder.IsZero() || issuer.IsZero() || newOwner.IsZero() {
		return nil, errors.WithDetail(ErrBadParty, "move")
	}
	ctx, err := withNewFlowID(ctx)
	if err != nil {
		return nil, err
	}
	tr := NewTracker(ctx, "move", f.Observer)

	var p *token.Proposal
	if f.Reserver != nil {
		res, err := f.Reserver.Reserve(ctx, reserve.Request{
			Issuer:   issuer,
			Owner:    holder,
			NewOwner: newOwner,
			Amount:   amount,
			Expiry:   time.Now().Add(f.reservationTTL()),
		})
		switch errors.Root(err) {
		case nil:
		case reserve.ErrInsufficientFunds:
			return nil, errors.Sub(ErrInsufficientFunds, err)
		case reserve.ErrReserved:
			return nil, errors.Sub(ErrConflict, err)
		default:
			return nil, errors.Wrap(err, "reserve")
		}
		// The states are either spent or free again once the flow ends.
		defer f.Reserver.Cancel(ctx, res.ID)
		p = res.Selection.Proposal
	} else {
		pool, err := f.Vault.Unspent(ctx, holder, issuer)
		if err != nil {
			return nil, errors.Wrap(err, "query unspent")
		}
		sel, err := coinselect.Select(pool, issuer, amount, newOwner, holder)
		switch errors.Root(err) {
		case nil:
		case coinselect.ErrInsufficientFunds, coinselect.ErrNoMatchingRecords:
			return nil, errors.Sub(ErrInsufficientFunds, err)
		default:
			return nil, errors.Wrap(err, "select")
		}
		p = sel.Proposal
	}
	return f.finish(ctx, tr, p, holder.Key)
}

// Redeem destroys records held by holder. Each record is matched by
// value against holder's unspent states; equal records are matched
// to distinct states.
func (f *Service) Redeem(ctx context.Context, holder token.Party, records []token.Record) (*Signed, error) {
	if len(records) == 0 {
		return nil, errors.WithDetail(ErrBadAmount, "nothing to redeem")
	}
	for _, r := range records {
		if r.Amount <= 0 {
			return nil, errors.WithDetailf(ErrBadAmount, "amount %d", r.Amount)
		}
	}
	if holder.IsZero() {
		return nil, errors.WithDetail(ErrBadParty, "redeem")
	}
	ctx, err := withNewFlowID(ctx)
	if err != nil {
		return nil, err
	}
	tr := NewTracker(ctx, "redeem", f.Observer)

	pool, err := f.Vault.Unspent(ctx, holder, token.Party{})
	if err != nil {
		return nil, errors.Wrap(err, "query unspent")
	}
	inputs, err := findStates(pool, records)
	if err != nil {
		return nil, err
	}

	signers := []token.KeyID{holder.Key}
	seen := map[token.KeyID]bool{holder.Key: true}
	for _, r := range records {
		if !seen[r.Issuer.Key] {
			seen[r.Issuer.Key] = true
			signers = append(signers, r.Issuer.Key)
		}
	}
	p := &token.Proposal{
		Kind:    token.Redeem,
		Inputs:  inputs,
		Signers: signers,
	}
	return f.finish(ctx, tr, p, holder.Key)
}

// findStates returns, for each record, the first state in pool
// holding an equal record and not already matched.
func findStates(pool []token.State, records []token.Record) ([]token.State, error) {
	used := make([]bool, len(pool))
	states := make([]token.State, 0, len(records))
	for _, r := range records {
		found := false
		for i, s := range pool {
			if !used[i] && s.Record == r {
				used[i] = true
				states = append(states, s)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.WithDetailf(ErrNotFound, "%s", r)
		}
	}
	return states, nil
}

// finish runs the stages after Generating. self is the key of the
// party running the flow; it signs first, then the other signers
// are gathered.
func (f *Service) finish(ctx context.Context, tr *Tracker, p *token.Proposal, self token.KeyID) (*Signed, error) {
	name := tr.name

	tr.Set(ctx, Verifying)
	if err := validation.Validate(p); err != nil {
		metrics.Inc("flow." + name + ".rejected")
		return nil, errors.Wrap(err, "verify")
	}

	tr.Set(ctx, Signing)
	signed := &Signed{Proposal: p, Signatures: make(map[token.KeyID][]byte)}
	if err := f.sign(ctx, signed, []token.KeyID{self}); err != nil {
		return nil, err
	}

	tr.Set(ctx, Gathering)
	var others []token.KeyID
	for k := range p.SignerSet() {
		if k != self {
			others = append(others, k)
		}
	}
	if err := f.sign(ctx, signed, others); err != nil {
		return nil, err
	}

	tr.Set(ctx, Finalising)
	err := f.Notary.Notarise(ctx, signed)
	if errors.Root(err) == ErrConflict {
		metrics.Inc("flow." + name + ".conflict")
		return nil, err
	} else if err != nil {
		return nil, errors.Wrap(err, "notarise")
	}

	tr.Set(ctx, Done)
	metrics.Inc("flow." + name + ".ok")
	return signed, nil
}

// sign collects signatures of keys over the proposal ID concurrently.
func (f *Service) sign(ctx context.Context, s *Signed, keys []token.KeyID) error {
	id := s.Proposal.ID()
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			sig, err := f.Signer.Sign(ctx, k, id[:])
			if err != nil {
				return errors.Wrapf(err, "sign with %s", k)
			}
			mu.Lock()
			s.Signatures[k] = sig
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func withNewFlowID(ctx context.Context) (context.Context, error) {
	b, err := randomBytes(8)
	if err != nil {
		return nil, errors.Wrap(err, "flow id")
	}
	return log.WithFlowID(ctx, hex.EncodeToString(b)), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
