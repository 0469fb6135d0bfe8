// Package zkp implements the compliance disclosure extension (C11, ADD):
// a holder proves a note's value lies within an authority-chosen range
// without revealing the value itself, reusing the RangeDisclosureCircuit
// compiled alongside the transfer/withdraw circuits.
package zkp

import (
	"context"
	"errors"
	"math/big"

	"github.com/shieldedpool/core/pkg/types"
)

// Disclosure errors.
var (
	ErrValueOutOfRange  = errors.New("zkp: note value is outside the requested disclosure range")
	ErrDisclosureFailed = errors.New("zkp: range disclosure proof does not verify")
)

// Authority is a party entitled to request range disclosures (spec §10 —
// e.g. a regulator or an auditor the holder has agreed to disclose to).
type Authority struct {
	Name      string
	PublicKey types.Hash
}

// RangeDisclosure is a proof that a committed note's value lies in
// [MinValue, MaxValue], bound to the note's on-chain commitment.
type RangeDisclosure struct {
	Commitment types.Hash
	MinValue   uint64
	MaxValue   uint64
	Proof      []byte
	Public     []byte
}

// DisclosureManager creates and verifies range disclosures against a
// shared CircuitManager. Grounded on the teacher's
// internal/zkp/disclosure.go DisclosureManager, narrowed from its five
// disclosure kinds to the one this protocol specifies (range); identity,
// temporal and sanctions disclosures had no corresponding public-input
// shape anywhere in spec §10 and are dropped rather than stubbed (see
// the module's grounding ledger).
type DisclosureManager struct {
	Circuits *CircuitManager
}

// NewDisclosureManager builds a manager around an already-compiled
// CircuitManager (CircuitManager.Setup(ProofTypeRangeDisclosure, ...) must
// have already run).
func NewDisclosureManager(circuits *CircuitManager) *DisclosureManager {
	return &DisclosureManager{Circuits: circuits}
}

// CreateRangeDisclosure proves that the note committed to by commitment
// (with the given plaintext fields) has a value within [minValue,
// maxValue]. It refuses to produce a proof of a false statement rather
// than relying on the circuit alone to catch it, so a caller gets an
// immediate, cheap error instead of an opaque prover failure.
func (dm *DisclosureManager) CreateRangeDisclosure(ctx context.Context, n types.Note, minValue, maxValue uint64) (*RangeDisclosure, error) {
	if n.Amount < minValue || n.Amount > maxValue {
		return nil, ErrValueOutOfRange
	}

	commitment := NoteCommitment(n)
	circuit := &RangeDisclosureCircuit{
		Commitment: new(big.Int).SetBytes(commitment.Bytes()),
		MinValue:   new(big.Int).SetUint64(minValue),
		MaxValue:   new(big.Int).SetUint64(maxValue),
		Value:      new(big.Int).SetUint64(n.Amount),
		Pubkey:     new(big.Int).SetBytes(n.Pubkey.Bytes()),
		Blinding:   new(big.Int).SetBytes(n.Blinding.Bytes()),
	}

	proofBytes, publicBytes, err := dm.Circuits.Prove(ctx, ProofTypeRangeDisclosure, circuit)
	if err != nil {
		return nil, err
	}

	return &RangeDisclosure{
		Commitment: commitment,
		MinValue:   minValue,
		MaxValue:   maxValue,
		Proof:      proofBytes,
		Public:     publicBytes,
	}, nil
}

// Verify checks a range disclosure's proof against its claimed public
// inputs.
func (dm *DisclosureManager) Verify(ctx context.Context, d *RangeDisclosure) (bool, error) {
	ok, err := dm.Circuits.Verify(ctx, ProofTypeRangeDisclosure, d.Proof, d.Public)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrDisclosureFailed
	}
	return true, nil
}
