// Package boltvault implements vault.Store on a bbolt file.
package boltvault

import (
	"context"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"tokenledger/errors"
	"tokenledger/token"
	"tokenledger/vault"
)

var (
	bucketUnspent = []byte("unspent")
	// bucketSpent maps a consumed ref to the id of the proposal
	// that consumed it.
	bucketSpent = []byte("spent")
)

// Store is a vault.Store persisted with bbolt.
type Store struct {
	db *bbolt.DB
}

var _ vault.Store = (*Store)(nil)

// Open opens or creates the store at path.
// The parent directory is created if it does not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUnspent, bucketSpent} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %q", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Unspent satisfies vault.Store.
// States are returned in ref order.
func (s *Store) Unspent(ctx context.Context, owner, issuer token.Party) ([]token.State, error) {
	var states []token.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUnspent).ForEach(func(k, v []byte) error {
			st, err := decodeState(k, v)
			if err != nil {
				return err
			}
			if vault.Matches(st, owner, issuer) {
				states = append(states, st)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "unspent")
	}
	return states, nil
}

// Apply satisfies vault.Store.
func (s *Store) Apply(ctx context.Context, p *token.Proposal) error {
	id := p.ID()
	return s.db.Update(func(tx *bbolt.Tx) error {
		unspent := tx.Bucket(bucketUnspent)
		spent := tx.Bucket(bucketSpent)
		for _, in := range p.Inputs {
			k := in.Ref.Bytes()
			v := unspent.Get(k)
			if v == nil {
				return errors.WithDetailf(vault.ErrSpent, "ref %s", in.Ref)
			}
			st, err := decodeState(k, v)
			if err != nil {
				return err
			}
			if st.Record != in.Record {
				return errors.WithDetailf(vault.ErrSpent, "ref %s holds %s", in.Ref, st.Record)
			}
			if err := unspent.Delete(k); err != nil {
				return errors.Wrap(err, "delete input")
			}
			if err := spent.Put(k, id[:]); err != nil {
				return errors.Wrap(err, "mark spent")
			}
		}
		for _, out := range p.OutputStates() {
			k := out.Ref.Bytes()
			if unspent.Get(k) != nil || spent.Get(k) != nil {
				return errors.WithDetailf(vault.ErrSpent, "proposal %s already applied", id)
			}
			v, err := out.Record.MarshalBinary()
			if err != nil {
				return err
			}
			if err := unspent.Put(k, v); err != nil {
				return errors.Wrap(err, "put output")
			}
		}
		return nil
	})
}

// SpentBy returns the id of the proposal that consumed ref,
// or false if ref has not been consumed.
func (s *Store) SpentBy(ctx context.Context, ref token.Ref) (id token.Hash, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSpent).Get(ref.Bytes())
		if v != nil {
			ok = true
			copy(id[:], v)
		}
		return nil
	})
	return id, ok, err
}

func decodeState(k, v []byte) (token.State, error) {
	var st token.State
	ref, err := token.RefFromBytes(k)
	if err != nil {
		return st, err
	}
	st.Ref = ref
	err = st.Record.UnmarshalBinary(v)
	if err != nil {
		return st, errors.Wrapf(err, "decode %s", ref)
	}
	return st, nil
}
