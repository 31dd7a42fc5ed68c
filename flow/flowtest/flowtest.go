// Package flowtest provides in-memory signers and notaries
// for running flows in tests.
package flowtest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"tokenledger/errors"
	"tokenledger/flow"
	"tokenledger/token"
	"tokenledger/token/validation"
	"tokenledger/vault"
)

// ErrUnknownKey is returned by Keyring.Sign for a key it does not hold.
var ErrUnknownKey = errors.New("unknown key")

// Keyring is a flow.Signer holding private keys in memory.
// The zero value is ready to use.
type Keyring struct {
	mu   sync.Mutex
	keys map[token.KeyID]ed25519.PrivateKey
}

// NewParty generates a key pair for name and keeps the private key.
func (k *Keyring) NewParty(name string) token.Party {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	id := token.KeyOf(pub)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = make(map[token.KeyID]ed25519.PrivateKey)
	}
	k.keys[id] = priv
	return token.Party{Name: name, Key: id}
}

// Sign satisfies flow.Signer.
func (k *Keyring) Sign(ctx context.Context, key token.KeyID, msg []byte) ([]byte, error) {
	k.mu.Lock()
	priv, ok := k.keys[key]
	k.mu.Unlock()
	if !ok {
		return nil, errors.WithDetailf(ErrUnknownKey, "%s", key)
	}
	return ed25519.Sign(priv, msg), nil
}

// Notary is a flow.Notary that checks signatures and validity,
// then applies proposals to a vault.
type Notary struct {
	Vault vault.Store

	mu  sync.Mutex // serializes Apply
	Log []*flow.Signed
}

// Notarise satisfies flow.Notary.
func (n *Notary) Notarise(ctx context.Context, s *flow.Signed) error {
	if err := s.Verify(); err != nil {
		return err
	}
	if err := validation.Validate(s.Proposal); err != nil {
		return errors.Wrap(err, "notary")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.Vault.Apply(ctx, s.Proposal)
	if errors.Root(err) == vault.ErrSpent {
		return errors.Sub(flow.ErrConflict, err)
	} else if err != nil {
		return err
	}
	n.Log = append(n.Log, s)
	return nil
}
