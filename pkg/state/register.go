// Package state implements the CRDT datastore: every entity kind is kept
// in its own bbolt bucket as a signed last-writer-wins register, gossiped
// between nodes, and served over HTTP for reads and writes.
package state

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/types"
)

// Register is a signed last-writer-wins entry: whichever write carries the
// later Timestamp wins merges, ties broken by comparing Signer bytes so
// that merge order never matters (spec.md testable property 1).
type Register struct {
	ValueJSON json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Signer    types.Address   `json:"signer"`
	Signature [65]byte        `json:"signature"`
}

// canonicalPayload reproduces the exact bytes the signer signed: the
// ValueJSON and Timestamp, in that order, so Signature can be re-verified
// independently of how the register is later re-marshaled.
func canonicalPayload(valueJSON json.RawMessage, ts time.Time) ([]byte, error) {
	return envelope.Canonicalize(struct {
		Value json.RawMessage `json:"value"`
		Timestamp time.Time `json:"timestamp"`
	}{valueJSON, ts})
}

// NewRegister builds a register around value that carries sig as signer's
// signature; it neither computes nor checks that signature.
func NewRegister(value any, ts time.Time, sig [65]byte, signer types.Address) (Register, error) {
	raw, err := envelope.Canonicalize(value)
	if err != nil {
		return Register{}, err
	}
	return Register{ValueJSON: raw, Timestamp: ts, Signer: signer, Signature: sig}, nil
}

// Sign builds and signs a register around value using key, stamped with
// the current time. Exported so callers outside this package — pkg/state's
// own Client and pkg/nodemetrics's Collector alike — produce registers the
// same way instead of reimplementing the canonical-payload signing scheme.
func Sign(key *ecdsa.PrivateKey, value any) (Register, error) {
	now := time.Now()
	valueJSON, err := envelope.Canonicalize(value)
	if err != nil {
		return Register{}, err
	}
	payload, err := canonicalPayload(valueJSON, now)
	if err != nil {
		return Register{}, err
	}
	sig, err := envelope.Sign(key, payload)
	if err != nil {
		return Register{}, err
	}
	signer := envelope.AddressFromPublicKey(&key.PublicKey)
	return Register{ValueJSON: valueJSON, Timestamp: now, Signer: signer, Signature: sig}, nil
}

// Verify checks that Signature was produced by Signer over this register's
// canonical payload.
func (r Register) Verify() error {
	payload, err := canonicalPayload(r.ValueJSON, r.Timestamp)
	if err != nil {
		return err
	}
	recovered, err := envelope.Recover(payload, r.Signature)
	if err != nil {
		return fmt.Errorf("state: register signature invalid: %w", err)
	}
	if recovered != r.Signer {
		return fmt.Errorf("state: register signer mismatch")
	}
	return nil
}

// Wins reports whether r should replace existing under LWW-with-tiebreak
// semantics.
func (r Register) Wins(existing Register) bool {
	if r.Timestamp.After(existing.Timestamp) {
		return true
	}
	if r.Timestamp.Before(existing.Timestamp) {
		return false
	}
	return lessAddress(existing.Signer, r.Signer)
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
