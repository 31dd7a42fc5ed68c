package pgvault

import (
	"testing"

	"tokenledger/database/pg/pgtest"
	"tokenledger/vault/vaulttest"
)

func TestStore(t *testing.T) {
	db := pgtest.NewDB(t, Schema)
	vaulttest.Run(t, New(db))
}
