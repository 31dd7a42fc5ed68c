// Package reserve holds unspent states for in-progress transfers
// so that concurrent flows in one process do not select the same
// states. Reservations are tentative: they live in memory and
// the notary remains the authority on double spends.
package reserve

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/singleflight"

	"tokenledger/errors"
	"tokenledger/metrics"
	"tokenledger/sync/idempotency"
	"tokenledger/token"
	"tokenledger/token/coinselect"
)

var (
	// ErrInsufficientFunds indicates the owner does not hold enough
	// of the issuer's tokens, reserved or not, to cover the request.
	ErrInsufficientFunds = errors.New("reservation found insufficient funds")

	// ErrReserved indicates that the request could be covered but
	// some of the needed states are held by other reservations.
	// Retrying after those reservations finish or are canceled
	// may succeed.
	ErrReserved = errors.New("reservation found states already reserved")

	// ErrNoReservation is returned by Cancel for an unknown id.
	ErrNoReservation = errors.New("reservation not found")
)

// Querier returns the unspent states held by owner and backed by issuer.
type Querier interface {
	Unspent(ctx context.Context, owner, issuer token.Party) ([]token.State, error)
}

// Request describes a transfer to reserve states for.
type Request struct {
	Issuer   token.Party
	Owner    token.Party
	NewOwner token.Party
	Amount   int64

	// ClientToken, when set, makes Reserve idempotent: repeated
	// requests with the same token get the same reservation
	// until it is canceled or expires.
	ClientToken *string

	// Expiry is when ExpireReservations may release the states.
	// The zero time never expires; such a reservation lasts
	// until it is canceled.
	Expiry time.Time
}

// Reservation is a set of states held for one transfer.
// Reservations are immutable.
type Reservation struct {
	ID          uint64
	Selection   *coinselect.Selection
	Expiry      time.Time
	ClientToken *string

	src source
}

type source struct {
	Issuer token.Party
	Owner  token.Party
}

// key identifies src by its keys alone, so renamed parties
// share one sourceReserver.
func (src source) key() sourceKey {
	return sourceKey{issuer: src.Issuer.Key, owner: src.Owner.Key}
}

type sourceKey struct {
	issuer, owner token.KeyID
}

// Reserver keeps reservations in memory and reads unspent
// states from a Querier.
//
// No two mutexes (on Reserver or sourceReserver) are held
// at the same time.
type Reserver struct {
	q                 Querier
	nextReservationID uint64
	idempotency       idempotency.Group[*Reservation]

	reservationsMu sync.Mutex
	reservations   map[uint64]*Reservation

	sourcesMu sync.Mutex
	sources   map[sourceKey]*sourceReserver
}

// New returns a Reserver reading from q.
func New(q Querier) *Reserver {
	return &Reserver{
		q:            q,
		reservations: make(map[uint64]*Reservation),
		sources:      make(map[sourceKey]*sourceReserver),
	}
}

// Reserve selects and reserves states covering req.Amount. The
// returned reservation's Selection holds the Move proposal to sign.
// Like coinselect.Select, it panics on a non-positive amount or
// a party without a key.
func (re *Reserver) Reserve(ctx context.Context, req Request) (*Reservation, error) {
	if req.ClientToken == nil {
		return re.reserve(ctx, req)
	}
	return re.idempotency.Once(*req.ClientToken, func() (*Reservation, error) {
		return re.reserve(ctx, req)
	})
}

func (re *Reserver) reserve(ctx context.Context, req Request) (*Reservation, error) {
	src := source{Issuer: req.Issuer, Owner: req.Owner}
	rid := atomic.AddUint64(&re.nextReservationID, 1)
	sel, err := re.source(src).reserve(ctx, rid, req)
	switch errors.Root(err) {
	case nil:
		metrics.Inc("reserve.ok")
	case ErrInsufficientFunds:
		metrics.Inc("reserve.insufficient")
		return nil, err
	case ErrReserved:
		metrics.Inc("reserve.conflict")
		return nil, err
	default:
		return nil, err
	}

	res := &Reservation{
		ID:          rid,
		Selection:   sel,
		Expiry:      req.Expiry,
		ClientToken: req.ClientToken,
		src:         src,
	}
	re.reservationsMu.Lock()
	re.reservations[rid] = res
	re.reservationsMu.Unlock()
	return res, nil
}

// Cancel releases the states held by reservation rid.
func (re *Reserver) Cancel(ctx context.Context, rid uint64) error {
	re.reservationsMu.Lock()
	res, ok := re.reservations[rid]
	delete(re.reservations, rid)
	re.reservationsMu.Unlock()
	if !ok {
		return errors.WithDetailf(ErrNoReservation, "id %d", rid)
	}
	re.release(res)
	return nil
}

// ExpireReservations releases every reservation whose expiry
// is set and before now.
func (re *Reserver) ExpireReservations(ctx context.Context, now time.Time) {
	var expired []*Reservation
	re.reservationsMu.Lock()
	for rid, res := range re.reservations {
		if !res.Expiry.IsZero() && res.Expiry.Before(now) {
			expired = append(expired, res)
			delete(re.reservations, rid)
		}
	}
	re.reservationsMu.Unlock()

	for _, res := range expired {
		re.release(res)
	}
}

// ExpireEvery calls ExpireReservations every period until
// ctx is done.
func (re *Reserver) ExpireEvery(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			re.ExpireReservations(ctx, now)
		}
	}
}

func (re *Reserver) release(res *Reservation) {
	re.source(res.src).cancel(res)
	if res.ClientToken != nil {
		re.idempotency.Forget(*res.ClientToken)
	}
}

func (re *Reserver) source(src source) *sourceReserver {
	re.sourcesMu.Lock()
	defer re.sourcesMu.Unlock()

	sr, ok := re.sources[src.key()]
	if ok {
		return sr
	}
	sr = &sourceReserver{
		q:        re.q,
		src:      src,
		reserved: make(map[token.Ref]uint64),
	}
	re.sources[src.key()] = sr
	return sr
}

type sourceReserver struct {
	q     Querier
	src   source
	group singleflight.Group

	mu       sync.Mutex
	reserved map[token.Ref]uint64
}

func (sr *sourceReserver) unspent(ctx context.Context) ([]token.State, error) {
	key := fmt.Sprintf("%x-%x", sr.src.Issuer.Key[:], sr.src.Owner.Key[:])
	v, err := sr.group.Do(key, func() (interface{}, error) {
		return sr.q.Unspent(ctx, sr.src.Owner, sr.src.Issuer)
	})
	if err != nil {
		return nil, errors.Wrap(err, "query unspent states")
	}
	return v.([]token.State), nil
}

func (sr *sourceReserver) reserve(ctx context.Context, rid uint64, req Request) (*coinselect.Selection, error) {
	states, err := sr.unspent(ctx)
	if err != nil {
		return nil, err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	var available, held []token.State
	for _, s := range states {
		if _, ok := sr.reserved[s.Ref]; ok {
			held = append(held, s)
			continue
		}
		available = append(available, s)
	}

	sel, err := coinselect.Select(available, sr.src.Issuer, req.Amount, req.NewOwner, sr.src.Owner)
	switch errors.Root(err) {
	case nil:
	case coinselect.ErrNoMatchingRecords, coinselect.ErrInsufficientFunds:
		unavailable := sum(held, sr.src)
		if unavailable > 0 && sum(append(held, available...), sr.src) >= req.Amount {
			return nil, errors.WithDetailf(ErrReserved, "%d reserved elsewhere", unavailable)
		}
		return nil, errors.Sub(ErrInsufficientFunds, err)
	default:
		return nil, err
	}

	for _, s := range sel.Proposal.Inputs {
		sr.reserved[s.Ref] = rid
	}
	return sel, nil
}

func (sr *sourceReserver) cancel(res *Reservation) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for _, s := range res.Selection.Proposal.Inputs {
		if sr.reserved[s.Ref] == res.ID {
			delete(sr.reserved, s.Ref)
		}
	}
}

// sum adds the amounts of states matching src, saturating
// instead of overflowing.
func sum(states []token.State, src source) int64 {
	var total int64
	for _, s := range states {
		if !s.Issuer.Same(src.Issuer) || !s.Owner.Same(src.Owner) || s.Amount <= 0 {
			continue
		}
		if total > 1<<63-1-s.Amount {
			return 1<<63 - 1
		}
		total += s.Amount
	}
	return total
}
