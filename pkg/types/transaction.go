package types

import (
	"errors"
	"math/big"

	"github.com/shieldedpool/core/pkg/common"
)

// Errors returned while decoding ABI-encoded public inputs.
var (
	ErrTransferInputsWrongSize = errors.New("types: transfer public inputs must be 160 bytes (5x32)")
	ErrWithdrawInputsWrongSize = errors.New("types: withdraw public inputs must be 160 bytes (5x32)")
)

// TransferPublicInputs is the 5x32-byte ABI-encoded public-input word list
// for a 2-in-2-out transfer circuit (spec §4.4.1): root, nullifier_1,
// nullifier_2, out_commitment_1, out_commitment_2, in that order.
type TransferPublicInputs struct {
	Root           Hash
	Nullifier1     Hash
	Nullifier2     Hash
	OutCommitment1 Hash
	OutCommitment2 Hash
}

// Encode produces the 160-byte ABI layout any re-implementation must
// match bit-for-bit so an on-chain verifier accepts the same bytes.
func (p TransferPublicInputs) Encode() []byte {
	return common.ConcatBytes(
		p.Root[:], p.Nullifier1[:], p.Nullifier2[:],
		p.OutCommitment1[:], p.OutCommitment2[:],
	)
}

// DecodeTransferPublicInputs parses the 160-byte ABI layout produced by Encode.
func DecodeTransferPublicInputs(b []byte) (TransferPublicInputs, error) {
	if len(b) != 5*HashSize {
		return TransferPublicInputs{}, ErrTransferInputsWrongSize
	}
	var p TransferPublicInputs
	copy(p.Root[:], b[0:32])
	copy(p.Nullifier1[:], b[32:64])
	copy(p.Nullifier2[:], b[64:96])
	copy(p.OutCommitment1[:], b[96:128])
	copy(p.OutCommitment2[:], b[128:160])
	return p, nil
}

// WithdrawPublicInputs is the ABI-encoded public-input layout for the
// withdraw circuit (spec §4.4.2 / §6): root(32) ‖ nullifier(32) ‖
// recipient(20, left-padded to 32) ‖ amount(u256, 32) ‖
// change_commitment(32) = 160 bytes.
type WithdrawPublicInputs struct {
	Root             Hash
	Nullifier        Hash
	Recipient        Address
	Amount           *big.Int
	ChangeCommitment Hash
}

// Encode produces the 160-byte ABI layout.
func (p WithdrawPublicInputs) Encode() []byte {
	recipientWord := make([]byte, HashSize)
	copy(recipientWord[HashSize-AddressSize:], p.Recipient[:])
	amount := p.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return common.ConcatBytes(
		p.Root[:], p.Nullifier[:], recipientWord,
		common.BigIntToBytes(amount, HashSize), p.ChangeCommitment[:],
	)
}

// DecodeWithdrawPublicInputs parses the 160-byte ABI layout produced by Encode.
func DecodeWithdrawPublicInputs(b []byte) (WithdrawPublicInputs, error) {
	if len(b) != 5*HashSize {
		return WithdrawPublicInputs{}, ErrWithdrawInputsWrongSize
	}
	var p WithdrawPublicInputs
	copy(p.Root[:], b[0:32])
	copy(p.Nullifier[:], b[32:64])
	p.Recipient = AddressFromBytes(b[64:96])
	p.Amount = common.BytesToBigInt(b[96:128])
	copy(p.ChangeCommitment[:], b[128:160])
	return p, nil
}

// CircuitID identifies which of the two spend circuits a proof was
// produced against.
type CircuitID uint8

const (
	CircuitTransfer CircuitID = iota + 1
	CircuitWithdraw
)

// Proof wraps an opaque Groth16 proof together with a tag identifying
// which circuit it was produced against. The proof bytes themselves are
// never interpreted by the pool state machine (spec §1: the zkVM/Groth16
// backend is a black box) -- only the verifier's accept/reject outcome
// matters to the pool.
type Proof struct {
	Circuit CircuitID
	Data    []byte
}
