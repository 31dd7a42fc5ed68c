// Package pgvault implements vault.Store on PostgreSQL.
package pgvault

import (
	"context"
	"database/sql"

	"tokenledger/database/pg"
	"tokenledger/errors"
	"tokenledger/token"
	"tokenledger/vault"
)

// Schema creates the table used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS token_states (
	tx_id       bytea   NOT NULL,
	index       integer NOT NULL,
	issuer_name text    NOT NULL,
	issuer_key  bytea   NOT NULL,
	owner_name  text    NOT NULL,
	owner_key   bytea   NOT NULL,
	amount      bigint  NOT NULL,
	spent_by    bytea,
	PRIMARY KEY (tx_id, index)
);
CREATE INDEX IF NOT EXISTS token_states_unspent
	ON token_states (owner_key, issuer_key) WHERE spent_by IS NULL;
`

// Store is a vault.Store backed by the token_states table.
type Store struct {
	db *sql.DB
}

var _ vault.Store = (*Store)(nil)

// New returns a store using db. The schema must already exist;
// see Migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the token_states table if needed.
func Migrate(ctx context.Context, db pg.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "migrate")
}

// Unspent satisfies vault.Store.
func (s *Store) Unspent(ctx context.Context, owner, issuer token.Party) ([]token.State, error) {
	const q = `
		SELECT tx_id, index, issuer_name, issuer_key, owner_name, owner_key, amount
		FROM token_states
		WHERE spent_by IS NULL
			AND ($1::bytea IS NULL OR (owner_key = $1 AND owner_name = $2))
			AND ($3::bytea IS NULL OR (issuer_key = $3 AND issuer_name = $4))
		ORDER BY tx_id, index
	`
	var states []token.State
	err := pg.ForQueryRows(ctx, s.db, q, filterKey(owner), owner.Name, filterKey(issuer), issuer.Name,
		func(txID token.Hash, index uint32, issuerName string, issuerKey token.KeyID, ownerName string, ownerKey token.KeyID, amount int64) {
			states = append(states, token.State{
				Ref: token.Ref{TxID: txID, Index: index},
				Record: token.Record{
					Issuer: token.Party{Name: issuerName, Key: issuerKey},
					Owner:  token.Party{Name: ownerName, Key: ownerKey},
					Amount: amount,
				},
			})
		})
	if err != nil {
		return nil, errors.Wrap(err, "unspent")
	}
	return states, nil
}

// Apply satisfies vault.Store. It runs in one transaction.
func (s *Store) Apply(ctx context.Context, p *token.Proposal) error {
	id := p.ID()
	return pg.InTx(ctx, s.db, func(tx *sql.Tx) error {
		const spend = `
			UPDATE token_states SET spent_by = $3
			WHERE tx_id = $1 AND index = $2 AND spent_by IS NULL
				AND issuer_name = $4 AND issuer_key = $5
				AND owner_name = $6 AND owner_key = $7
				AND amount = $8
		`
		for _, in := range p.Inputs {
			res, err := tx.ExecContext(ctx, spend, in.Ref.TxID, in.Ref.Index, id,
				in.Issuer.Name, in.Issuer.Key, in.Owner.Name, in.Owner.Key, in.Amount)
			if err != nil {
				return errors.Wrap(err, "spend input")
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "spend input")
			}
			if n != 1 {
				return errors.WithDetailf(vault.ErrSpent, "ref %s", in.Ref)
			}
		}

		const insert = `
			INSERT INTO token_states
			(tx_id, index, issuer_name, issuer_key, owner_name, owner_key, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for _, out := range p.OutputStates() {
			_, err := tx.ExecContext(ctx, insert, out.Ref.TxID, out.Ref.Index,
				out.Issuer.Name, out.Issuer.Key, out.Owner.Name, out.Owner.Key, out.Amount)
			if pg.IsUniqueViolation(err) {
				return errors.WithDetailf(vault.ErrSpent, "proposal %s already applied", id)
			} else if err != nil {
				return errors.Wrap(err, "insert output")
			}
		}
		return nil
	})
}

// filterKey returns nil for a zero party so the query matches any.
func filterKey(p token.Party) interface{} {
	if p.IsZero() {
		return nil
	}
	return p.Key
}
