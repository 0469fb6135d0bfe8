// Package zkp implements zk-SNARK circuit integration using gnark.
package zkp

import (
	"context"
	"errors"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Circuit errors.
var (
	ErrCircuitNotCompiled      = errors.New("zkp: circuit not compiled")
	ErrProofGenerationFailed   = errors.New("zkp: proof generation failed")
	ErrProofVerificationFailed = errors.New("zkp: proof verification failed")
)

// ProofType selects which compiled circuit a proof belongs to.
type ProofType uint8

const (
	ProofTypeTransfer ProofType = iota
	ProofTypeWithdraw
	ProofTypeRangeDisclosure
)

// MerkleDepth is the compiled tree depth for the gnark realization of C4.
// It is independent of the depth a running Tree (merkle.go) is configured
// with; a deployment picks one depth and compiles circuits for it once.
const MerkleDepth = 20

// CircuitManager owns compiled R1CS circuits plus their Groth16 proving and
// verifying keys, one pair per ProofType. Grounded on the teacher's
// internal/zkp/circuits.go CircuitManager, generalized from its single
// loosely-typed TransactionCircuit to the two concrete statements of spec
// §4.4 plus the range-disclosure extension of §10 (C11).
type CircuitManager struct {
	mu sync.RWMutex

	compiled      map[ProofType]constraint.ConstraintSystem
	provingKeys   map[ProofType]groth16.ProvingKey
	verifyingKeys map[ProofType]groth16.VerifyingKey
}

// NewCircuitManager returns an empty manager; circuits must be compiled
// with Setup before Prove/Verify can be used.
func NewCircuitManager() *CircuitManager {
	return &CircuitManager{
		compiled:      make(map[ProofType]constraint.ConstraintSystem),
		provingKeys:   make(map[ProofType]groth16.ProvingKey),
		verifyingKeys: make(map[ProofType]groth16.VerifyingKey),
	}
}

// merkleMembership folds path from leaf up to a root inside the circuit,
// using pathBits[i] to pick the sibling order at level i (0 = leaf/current
// is the left child). Mirrors VerifyProof's fold in merkle.go, but over a
// MiMC digest rather than keccak256 since gnark circuits are most
// efficient hashing within their own scalar field (spec §9 "polymorphism
// over hash backends" — this is the in-circuit realization, kept distinct
// from the canonical keccak256 predicate in statement.go).
func merkleMembership(api frontend.API, h mimc.MiMC, leaf frontend.Variable, siblings []frontend.Variable, pathBits []frontend.Variable) frontend.Variable {
	current := leaf
	for i := 0; i < len(siblings); i++ {
		left := api.Select(pathBits[i], siblings[i], current)
		right := api.Select(pathBits[i], current, siblings[i])
		h.Reset()
		h.Write(left, right)
		current = h.Sum()
	}
	return current
}

// TransferCircuit is the in-circuit realization of the transfer statement
// (spec §4.4.1): two spends, two outputs, value conservation, all hashes
// computed with MiMC rather than keccak256 so the arithmetic stays native
// to the BN254 scalar field.
type TransferCircuit struct {
	Root           frontend.Variable `gnark:",public"`
	Nullifier1     frontend.Variable `gnark:",public"`
	Nullifier2     frontend.Variable `gnark:",public"`
	OutCommitment1 frontend.Variable `gnark:",public"`
	OutCommitment2 frontend.Variable `gnark:",public"`

	InAmount1, InAmount2       frontend.Variable
	InPubkey1, InPubkey2       frontend.Variable
	InBlinding1, InBlinding2   frontend.Variable
	SpendingKey1, SpendingKey2 frontend.Variable
	Siblings1, Siblings2      [MerkleDepth]frontend.Variable
	PathBits1, PathBits2      [MerkleDepth]frontend.Variable

	OutAmount1, OutAmount2     frontend.Variable
	OutPubkey1, OutPubkey2     frontend.Variable
	OutBlinding1, OutBlinding2 frontend.Variable
}

// Define implements the transfer predicate of spec §4.4.1 as R1CS
// constraints, clause for clause with CheckTransferStatement.
func (c *TransferCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	checkOwnershipAndSpend := func(spendingKey, pubkey, amount, blinding, nullifier frontend.Variable, siblings, pathBits [MerkleDepth]frontend.Variable) {
		h.Reset()
		h.Write(spendingKey)
		api.AssertIsEqual(h.Sum(), pubkey)

		h.Reset()
		h.Write(amount, pubkey, blinding)
		commitment := h.Sum()

		root := merkleMembership(api, h, commitment, siblings[:], pathBits[:])
		api.AssertIsEqual(root, c.Root)

		h.Reset()
		h.Write(commitment, spendingKey)
		api.AssertIsEqual(h.Sum(), nullifier)
	}

	checkOwnershipAndSpend(c.SpendingKey1, c.InPubkey1, c.InAmount1, c.InBlinding1, c.Nullifier1, c.Siblings1, c.PathBits1)
	checkOwnershipAndSpend(c.SpendingKey2, c.InPubkey2, c.InAmount2, c.InBlinding2, c.Nullifier2, c.Siblings2, c.PathBits2)

	h.Reset()
	h.Write(c.OutAmount1, c.OutPubkey1, c.OutBlinding1)
	api.AssertIsEqual(h.Sum(), c.OutCommitment1)

	h.Reset()
	h.Write(c.OutAmount2, c.OutPubkey2, c.OutBlinding2)
	api.AssertIsEqual(h.Sum(), c.OutCommitment2)

	// Amount bounds: every amount, and the input sum, fits in 64 bits, so
	// value conservation cannot wrap around the field modulus.
	for _, amt := range []frontend.Variable{c.InAmount1, c.InAmount2, c.OutAmount1, c.OutAmount2} {
		api.ToBinary(amt, 64)
	}
	inSum := api.Add(c.InAmount1, c.InAmount2)
	outSum := api.Add(c.OutAmount1, c.OutAmount2)
	api.ToBinary(inSum, 64)
	api.AssertIsEqual(inSum, outSum)

	return nil
}

// WithdrawCircuit is the in-circuit realization of the withdraw statement
// (spec §4.4.2). HasChange toggles the full-withdrawal vs partial-withdrawal
// branch; both branches are constrained and selected with api.Select so the
// circuit shape does not depend on the witness (a fixed-shape requirement
// of R1CS).
type WithdrawCircuit struct {
	Root             frontend.Variable `gnark:",public"`
	Nullifier        frontend.Variable `gnark:",public"`
	Recipient        frontend.Variable `gnark:",public"`
	Amount           frontend.Variable `gnark:",public"`
	ChangeCommitment frontend.Variable `gnark:",public"`

	InAmount, InPubkey, InBlinding frontend.Variable
	SpendingKey                    frontend.Variable
	Siblings                       [MerkleDepth]frontend.Variable
	PathBits                       [MerkleDepth]frontend.Variable

	HasChange                                  frontend.Variable
	ChangeAmount, ChangePubkey, ChangeBlinding frontend.Variable
}

// Define implements the withdraw predicate of spec §4.4.2.
func (c *WithdrawCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Reset()
	h.Write(c.SpendingKey)
	api.AssertIsEqual(h.Sum(), c.InPubkey)

	h.Reset()
	h.Write(c.InAmount, c.InPubkey, c.InBlinding)
	commitment := h.Sum()

	root := merkleMembership(api, h, commitment, c.Siblings[:], c.PathBits[:])
	api.AssertIsEqual(root, c.Root)

	h.Reset()
	h.Write(commitment, c.SpendingKey)
	api.AssertIsEqual(h.Sum(), c.Nullifier)

	h.Reset()
	h.Write(c.ChangeAmount, c.ChangePubkey, c.ChangeBlinding)
	computedChangeCommitment := h.Sum()
	expectedChangeCommitment := api.Select(c.HasChange, computedChangeCommitment, frontend.Variable(0))
	api.AssertIsEqual(expectedChangeCommitment, c.ChangeCommitment)

	total := api.Select(c.HasChange, api.Add(c.Amount, c.ChangeAmount), c.Amount)
	api.AssertIsEqual(c.InAmount, total)

	// Recipient is bound into the statement as a public input; nothing
	// further to constrain against the witness (spec §4.4.2 clause 4).
	_ = c.Recipient

	return nil
}

// RangeDisclosureCircuit proves a committed value lies within [MinValue,
// MaxValue] without revealing it (spec §10, C11). Grounded on the
// teacher's RangeDisclosureCircuit; rewired to MiMC so the commitment
// reopens the same way the transfer/withdraw circuits do.
type RangeDisclosureCircuit struct {
	Commitment frontend.Variable `gnark:",public"`
	MinValue   frontend.Variable `gnark:",public"`
	MaxValue   frontend.Variable `gnark:",public"`

	Value    frontend.Variable
	Pubkey   frontend.Variable
	Blinding frontend.Variable
}

// Define implements the range predicate.
func (c *RangeDisclosureCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Value, c.Pubkey, c.Blinding)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	api.AssertIsLessOrEqual(c.MinValue, c.Value)
	api.AssertIsLessOrEqual(c.Value, c.MaxValue)
	return nil
}

// Setup compiles circuit for proofType and runs the Groth16 trusted setup,
// storing the resulting proving and verifying keys. A production
// deployment replaces this with a multi-party ceremony and installs the
// resulting keys with LoadKeys instead; Setup exists for tests and
// development.
func (cm *CircuitManager) Setup(proofType ProofType, circuit frontend.Circuit) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return err
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return err
	}

	cm.compiled[proofType] = cs
	cm.provingKeys[proofType] = pk
	cm.verifyingKeys[proofType] = vk
	return nil
}

// LoadKeys installs a previously generated (and ceremony-produced) key
// pair for proofType, bypassing Setup.
func (cm *CircuitManager) LoadKeys(proofType ProofType, cs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.compiled[proofType] = cs
	cm.provingKeys[proofType] = pk
	cm.verifyingKeys[proofType] = vk
}

// Prove generates a Groth16 proof for the fully-assigned witness circuit,
// returning the serialized proof bytes and the serialized public-input
// witness bytes, matching the Proof/public-input split of pkg/types.Proof.
func (cm *CircuitManager) Prove(ctx context.Context, proofType ProofType, witness frontend.Circuit) (proofBytes, publicBytes []byte, err error) {
	cm.mu.RLock()
	cs, okCS := cm.compiled[proofType]
	pk, okPK := cm.provingKeys[proofType]
	cm.mu.RUnlock()
	if !okCS || !okPK {
		return nil, nil, ErrCircuitNotCompiled
	}

	w, err := frontend.NewWitness(witness, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, err
	}

	proof, err := groth16.Prove(cs, pk, w)
	if err != nil {
		return nil, nil, ErrProofGenerationFailed
	}

	publicWitness, err := w.Public()
	if err != nil {
		return nil, nil, err
	}

	proofBuf, err := proof.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	publicBuf, err := publicWitness.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	return proofBuf, publicBuf, nil
}

// Verify checks a serialized proof against its serialized public-input
// witness for proofType.
func (cm *CircuitManager) Verify(ctx context.Context, proofType ProofType, proofBytes, publicBytes []byte) (bool, error) {
	cm.mu.RLock()
	vk, ok := cm.verifyingKeys[proofType]
	cm.mu.RUnlock()
	if !ok {
		return false, ErrCircuitNotCompiled
	}

	proof := groth16.NewProof(ecc.BN254)
	if err := proof.UnmarshalBinary(proofBytes); err != nil {
		return false, err
	}

	publicWitness, err := frontend.NewWitness(nil, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, err
	}
	if err := publicWitness.UnmarshalBinary(publicBytes); err != nil {
		return false, err
	}

	if err := groth16.Verify(proof, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// PublicWitnessBytes marshals only the public fields of a circuit
// assignment into the same wire format Prove's w.Public() produces, so a
// caller holding ABI-level public inputs (pkg/types.TransferPublicInputs /
// WithdrawPublicInputs) rather than a full witness can still call Verify:
// build a circuit value with just the public fields set and pass it here
// instead of re-deriving proof.Data's original witness.
func (cm *CircuitManager) PublicWitnessBytes(publicAssignment frontend.Circuit) ([]byte, error) {
	w, err := frontend.NewWitness(publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, err
	}
	return w.MarshalBinary()
}

// VerifyingKey returns the verifying key for proofType, for export to an
// on-chain verifier contract or a disclosure authority.
func (cm *CircuitManager) VerifyingKey(proofType ProofType) (groth16.VerifyingKey, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	vk, ok := cm.verifyingKeys[proofType]
	if !ok {
		return nil, ErrCircuitNotCompiled
	}
	return vk, nil
}
