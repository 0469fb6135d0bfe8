// Package zkp implements the on-chain/in-process pool state machine (C5):
// the deposit, private_transfer and withdraw operations of spec §4.5, each
// validated against the tree's full root history and the nullifier
// registry before any state mutation is applied.
package zkp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shieldedpool/core/pkg/types"
)

// Pool operation errors (spec §4.5, §7 "on-chain, permanent, reject the
// whole operation").
var (
	ErrUnknownRoot    = errors.New("zkp: stated root is not in the known root history")
	ErrInvalidProof   = errors.New("zkp: proof does not verify against the stated public inputs")
	ErrZeroAmount     = errors.New("zkp: deposit amount must be non-zero")
	ErrNoteTooLarge   = errors.New("zkp: encrypted note exceeds the pool's maximum size")
	ErrZeroAddress    = errors.New("zkp: recipient is the zero address")
	ErrTransferFailed = errors.New("zkp: token collaborator rejected the transfer")
)

// MaxEncryptedNoteSize bounds the ciphertext a PrivateTransfer/Withdraw may
// attach per output (spec §6 "bounded-size opaque payload").
const MaxEncryptedNoteSize = 4096

// Verifier checks a proof against its public inputs without any knowledge
// of the witness that produced it (spec §1's "the circuit is a black box
// to the pool"). CircuitVerifier (below) is the production
// implementation; tests may supply a Verifier that decodes an embedded
// witness and re-runs statement.go's canonical predicate instead of a real
// Groth16 check.
type Verifier interface {
	VerifyTransfer(ctx context.Context, pub types.TransferPublicInputs, proof types.Proof) (bool, error)
	VerifyWithdraw(ctx context.Context, pub types.WithdrawPublicInputs, proof types.Proof) (bool, error)
}

// CircuitVerifier adapts a CircuitManager to the Verifier interface.
type CircuitVerifier struct {
	Circuits *CircuitManager
}

// VerifyTransfer re-derives the circuit's public witness from pub's ABI
// fields (rather than reusing pub.Encode(), which is the ABI layout for
// statement.go's canonical keccak256 predicate, not the gnark witness
// wire format Verify expects) and checks proof against it.
func (v *CircuitVerifier) VerifyTransfer(ctx context.Context, pub types.TransferPublicInputs, proof types.Proof) (bool, error) {
	if proof.Circuit != types.CircuitTransfer {
		return false, nil
	}
	publicBytes, err := v.Circuits.PublicWitnessBytes(&TransferCircuit{
		Root:           new(big.Int).SetBytes(pub.Root.Bytes()),
		Nullifier1:     new(big.Int).SetBytes(pub.Nullifier1.Bytes()),
		Nullifier2:     new(big.Int).SetBytes(pub.Nullifier2.Bytes()),
		OutCommitment1: new(big.Int).SetBytes(pub.OutCommitment1.Bytes()),
		OutCommitment2: new(big.Int).SetBytes(pub.OutCommitment2.Bytes()),
	})
	if err != nil {
		return false, err
	}
	return v.Circuits.Verify(ctx, ProofTypeTransfer, proof.Data, publicBytes)
}

func (v *CircuitVerifier) VerifyWithdraw(ctx context.Context, pub types.WithdrawPublicInputs, proof types.Proof) (bool, error) {
	if proof.Circuit != types.CircuitWithdraw {
		return false, nil
	}
	amount := pub.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	publicBytes, err := v.Circuits.PublicWitnessBytes(&WithdrawCircuit{
		Root:             new(big.Int).SetBytes(pub.Root.Bytes()),
		Nullifier:        new(big.Int).SetBytes(pub.Nullifier.Bytes()),
		Recipient:        new(big.Int).SetBytes(pub.Recipient.Bytes()),
		Amount:           amount,
		ChangeCommitment: new(big.Int).SetBytes(pub.ChangeCommitment.Bytes()),
	})
	if err != nil {
		return false, err
	}
	return v.Circuits.Verify(ctx, ProofTypeWithdraw, proof.Data, publicBytes)
}

// EncryptedNoteStore persists the opaque note ciphertexts emitted
// alongside PrivateTransfer/Withdraw outputs (spec §6).
type EncryptedNoteStore interface {
	SaveEncryptedNote(ctx context.Context, commitment types.Hash, data []byte) error
}

// InMemoryEncryptedNoteStore is an EncryptedNoteStore for tests and
// single-process deployments.
type InMemoryEncryptedNoteStore struct {
	mu    sync.RWMutex
	notes map[types.Hash][]byte
}

func NewInMemoryEncryptedNoteStore() *InMemoryEncryptedNoteStore {
	return &InMemoryEncryptedNoteStore{notes: make(map[types.Hash][]byte)}
}

func (s *InMemoryEncryptedNoteStore) SaveEncryptedNote(ctx context.Context, commitment types.Hash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[commitment] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryEncryptedNoteStore) Get(commitment types.Hash) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.notes[commitment]
	return data, ok
}

// TokenClient is the external token collaborator deposit pulls funds from
// and withdraw pays funds out to (spec §4.5's pool state tuple includes
// token_escrow alongside the tree, nullifier set and note store). The pool
// never holds a balance itself; it only asks TokenClient to move value and
// fails the whole operation with ErrTransferFailed if it refuses.
type TokenClient interface {
	// PullDeposit takes amount into escrow on behalf of a deposit.
	PullDeposit(ctx context.Context, amount uint64) error
	// PayWithdrawal pays amount out of escrow to recipient on behalf of a
	// withdrawal.
	PayWithdrawal(ctx context.Context, recipient types.Address, amount uint64) error
}

// InMemoryTokenClient is a TokenClient for tests and single-process
// deployments: an escrow ledger with no external token at all, just a
// running balance that deposits add to and withdrawals draw down.
type InMemoryTokenClient struct {
	mu     sync.Mutex
	escrow uint64
}

// NewInMemoryTokenClient creates an empty escrow ledger.
func NewInMemoryTokenClient() *InMemoryTokenClient {
	return &InMemoryTokenClient{}
}

func (t *InMemoryTokenClient) PullDeposit(ctx context.Context, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.escrow += amount
	return nil
}

func (t *InMemoryTokenClient) PayWithdrawal(ctx context.Context, recipient types.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount > t.escrow {
		return errors.New("zkp: escrow balance insufficient for withdrawal")
	}
	t.escrow -= amount
	return nil
}

// EscrowBalance reports the ledger's current balance (spec §4.5's
// token_escrow component of pool state).
func (t *InMemoryTokenClient) EscrowBalance() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.escrow
}

// PoolState is the shielded pool's state machine: the commitment tree, the
// nullifier registry, the proof verifier, the encrypted-note store and the
// token collaborator, wired together by the three public operations of
// spec §4.5. Grounded on the teacher's internal/zkp/transaction.go
// ShieldedPool, generalized from its single loosely-validated
// ProcessTransaction entrypoint to the three concrete operations (and
// their distinct public-input shapes) of this protocol.
type PoolState struct {
	mu sync.Mutex

	Tree       *Tree
	Nullifiers *NullifierSet
	Notes      EncryptedNoteStore
	Verify     Verifier
	Token      TokenClient

	blockNumber uint64
	logIndex    uint32
}

// NewPoolState wires a pool state machine from its component parts.
// The event-ordering counter starts at block 0, log index 0 (spec §4.5's
// EventID is (block_number, log_index); an in-process pool that has no
// real chain underneath it advances blockNumber once per call to
// AdvanceBlock).
func NewPoolState(tree *Tree, nullifiers *NullifierSet, notes EncryptedNoteStore, verifier Verifier, token TokenClient) *PoolState {
	return &PoolState{
		Tree:       tree,
		Nullifiers: nullifiers,
		Notes:      notes,
		Verify:     verifier,
		Token:      token,
	}
}

// AdvanceBlock moves the event-ordering counter to the next block,
// resetting log_index to zero. Callers embedding PoolState into a real
// chain (rather than driving it directly, as a test or a single-writer
// daemon would) should instead stamp EventIDs from the chain itself and
// skip this method entirely.
func (p *PoolState) AdvanceBlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockNumber++
	p.logIndex = 0
}

func (p *PoolState) nextEventID() types.EventID {
	id := types.EventID{BlockNumber: p.blockNumber, LogIndex: p.logIndex}
	p.logIndex++
	return id
}

// Deposit inserts a new commitment into the tree for a public, non-private
// value transfer into the pool (spec §4.5 "deposit"). It is the only
// operation that does not require a proof: the amount is public by
// construction.
func (p *PoolState) Deposit(ctx context.Context, commitment types.Hash, amount uint64, encryptedNote []byte) (*types.DepositEvent, *types.EncryptedNoteEvent, error) {
	if amount == 0 {
		return nil, nil, ErrZeroAmount
	}
	if len(encryptedNote) > MaxEncryptedNoteSize {
		return nil, nil, ErrNoteTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.Token.PullDeposit(ctx, amount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	leafIndex, err := p.Tree.Insert(ctx, commitment)
	if err != nil {
		return nil, nil, err
	}

	ev := &types.DepositEvent{
		ID:         p.nextEventID(),
		Commitment: commitment,
		Amount:     amount,
		LeafIndex:  leafIndex,
	}

	noteEv, err := p.saveAndEmitNote(ctx, commitment, encryptedNote)
	if err != nil {
		return nil, nil, err
	}
	return ev, noteEv, nil
}

// saveAndEmitNote persists an encrypted note to the note store and, if one
// was attached, mints the EncryptedNoteEvent a sync engine replays to
// recover the commitment's plaintext without needing to decode any
// operation-specific calldata (spec §4.7 step 3).
func (p *PoolState) saveAndEmitNote(ctx context.Context, commitment types.Hash, encryptedNote []byte) (*types.EncryptedNoteEvent, error) {
	if encryptedNote == nil {
		return nil, nil
	}
	if err := p.Notes.SaveEncryptedNote(ctx, commitment, encryptedNote); err != nil {
		return nil, err
	}
	return &types.EncryptedNoteEvent{
		ID:            p.nextEventID(),
		Commitment:    commitment,
		EncryptedData: encryptedNote,
	}, nil
}

// PrivateTransfer validates and applies a 2-in-2-out shielded transfer
// (spec §4.5 "private_transfer", §4.4.1). Every check runs before any
// mutation: a failed proof, an unknown root or an already-spent nullifier
// leaves the tree and nullifier registry exactly as they were, so there is
// no partial-application state to roll back.
func (p *PoolState) PrivateTransfer(ctx context.Context, pub types.TransferPublicInputs, proof types.Proof, encryptedNote1, encryptedNote2 []byte) (*types.PrivateTransferEvent, []*types.EncryptedNoteEvent, error) {
	if len(encryptedNote1) > MaxEncryptedNoteSize || len(encryptedNote2) > MaxEncryptedNoteSize {
		return nil, nil, ErrNoteTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	known, err := p.Tree.IsKnownRoot(ctx, pub.Root)
	if err != nil {
		return nil, nil, err
	}
	if !known {
		return nil, nil, ErrUnknownRoot
	}

	for _, nf := range []types.Hash{pub.Nullifier1, pub.Nullifier2} {
		spent, err := p.Nullifiers.IsSpent(ctx, nf)
		if err != nil {
			return nil, nil, err
		}
		if spent {
			return nil, nil, ErrNullifierSpent
		}
	}
	if pub.Nullifier1 == pub.Nullifier2 {
		return nil, nil, ErrNullifierSpent
	}

	ok, err := p.Verify.VerifyTransfer(ctx, pub, proof)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrInvalidProof
	}

	// All checks passed; apply.
	if err := p.Nullifiers.MarkSpent(ctx, pub.Nullifier1); err != nil {
		return nil, nil, err
	}
	if err := p.Nullifiers.MarkSpent(ctx, pub.Nullifier2); err != nil {
		return nil, nil, err
	}
	if _, err := p.Tree.Insert(ctx, pub.OutCommitment1); err != nil {
		return nil, nil, err
	}
	if _, err := p.Tree.Insert(ctx, pub.OutCommitment2); err != nil {
		return nil, nil, err
	}

	ev := &types.PrivateTransferEvent{
		ID:             p.nextEventID(),
		Nullifier1:     pub.Nullifier1,
		Nullifier2:     pub.Nullifier2,
		OutCommitment1: pub.OutCommitment1,
		OutCommitment2: pub.OutCommitment2,
	}

	var noteEvents []*types.EncryptedNoteEvent
	noteEv1, err := p.saveAndEmitNote(ctx, pub.OutCommitment1, encryptedNote1)
	if err != nil {
		return nil, nil, err
	}
	if noteEv1 != nil {
		noteEvents = append(noteEvents, noteEv1)
	}
	noteEv2, err := p.saveAndEmitNote(ctx, pub.OutCommitment2, encryptedNote2)
	if err != nil {
		return nil, nil, err
	}
	if noteEv2 != nil {
		noteEvents = append(noteEvents, noteEv2)
	}

	return ev, noteEvents, nil
}

// Withdraw validates and applies a withdrawal, optionally with change
// (spec §4.5 "withdraw", §4.4.2). A zero ChangeCommitment signals a full
// withdrawal and no change output is inserted into the tree.
func (p *PoolState) Withdraw(ctx context.Context, pub types.WithdrawPublicInputs, proof types.Proof, encryptedChangeNote []byte) (*types.WithdrawalEvent, *types.EncryptedNoteEvent, error) {
	if len(encryptedChangeNote) > MaxEncryptedNoteSize {
		return nil, nil, ErrNoteTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	known, err := p.Tree.IsKnownRoot(ctx, pub.Root)
	if err != nil {
		return nil, nil, err
	}
	if !known {
		return nil, nil, ErrUnknownRoot
	}

	spent, err := p.Nullifiers.IsSpent(ctx, pub.Nullifier)
	if err != nil {
		return nil, nil, err
	}
	if spent {
		return nil, nil, ErrNullifierSpent
	}

	if pub.Recipient.IsZero() {
		return nil, nil, ErrZeroAddress
	}

	ok, err := p.Verify.VerifyWithdraw(ctx, pub, proof)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrInvalidProof
	}

	var amount uint64
	if pub.Amount != nil {
		amount = pub.Amount.Uint64()
	}

	if err := p.Token.PayWithdrawal(ctx, pub.Recipient, amount); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := p.Nullifiers.MarkSpent(ctx, pub.Nullifier); err != nil {
		return nil, nil, err
	}

	var noteEv *types.EncryptedNoteEvent
	if !pub.ChangeCommitment.IsZero() {
		if _, err := p.Tree.Insert(ctx, pub.ChangeCommitment); err != nil {
			return nil, nil, err
		}
		noteEv, err = p.saveAndEmitNote(ctx, pub.ChangeCommitment, encryptedChangeNote)
		if err != nil {
			return nil, nil, err
		}
	}

	ev := &types.WithdrawalEvent{
		ID:        p.nextEventID(),
		Nullifier: pub.Nullifier,
		Recipient: pub.Recipient,
		Amount:    amount,
	}
	return ev, noteEv, nil
}
