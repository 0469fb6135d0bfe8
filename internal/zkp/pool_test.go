package zkp

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shieldedpool/core/pkg/types"
)

// stubVerifier accepts or rejects every proof according to its fields,
// independent of the public inputs, so pool_test.go can exercise
// PoolState's own bookkeeping without a live Groth16 backend.
type stubVerifier struct {
	acceptTransfer bool
	acceptWithdraw bool
}

func (v *stubVerifier) VerifyTransfer(ctx context.Context, pub types.TransferPublicInputs, proof types.Proof) (bool, error) {
	return v.acceptTransfer, nil
}

func (v *stubVerifier) VerifyWithdraw(ctx context.Context, pub types.WithdrawPublicInputs, proof types.Proof) (bool, error) {
	return v.acceptWithdraw, nil
}

// stubTokenClient is a TokenClient for tests that don't care about escrow
// bookkeeping: it never moves value and never fails unless told to, so
// pullErr/payErr let a test force ErrTransferFailed directly.
type stubTokenClient struct {
	pullErr error
	payErr  error
}

func (t *stubTokenClient) PullDeposit(ctx context.Context, amount uint64) error {
	return t.pullErr
}

func (t *stubTokenClient) PayWithdrawal(ctx context.Context, recipient types.Address, amount uint64) error {
	return t.payErr
}

func newTestPool(t *testing.T, verifier Verifier) (*PoolState, *Tree) {
	return newTestPoolWithToken(t, verifier, &stubTokenClient{})
}

func newTestPoolWithToken(t *testing.T, verifier Verifier, token TokenClient) (*PoolState, *Tree) {
	t.Helper()
	tree, err := NewTree(NewInMemoryTreeStore(), 8)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if err := tree.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	nullifiers := NewNullifierSet(NewInMemoryNullifierStore())
	notes := NewInMemoryEncryptedNoteStore()
	return NewPoolState(tree, nullifiers, notes, verifier, token), tree
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	pool, _ := newTestPool(t, &stubVerifier{})
	commitment := types.HashFromBytes([]byte("commitment"))
	if _, _, err := pool.Deposit(context.Background(), commitment, 0, nil); err != ErrZeroAmount {
		t.Fatalf("Deposit(amount=0) = %v, want ErrZeroAmount", err)
	}
}

func TestDepositRejectsOversizedNote(t *testing.T) {
	pool, _ := newTestPool(t, &stubVerifier{})
	commitment := types.HashFromBytes([]byte("commitment"))
	oversized := make([]byte, MaxEncryptedNoteSize+1)
	if _, _, err := pool.Deposit(context.Background(), commitment, 10, oversized); err != ErrNoteTooLarge {
		t.Fatalf("Deposit(oversized note) = %v, want ErrNoteTooLarge", err)
	}
}

func TestDepositInsertsCommitmentAndEmitsNoteEvent(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{})
	commitment := types.HashFromBytes([]byte("commitment"))
	note := []byte("ciphertext")

	ev, noteEv, err := pool.Deposit(ctx, commitment, 500, note)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if ev.Amount != 500 || ev.Commitment != commitment || ev.LeafIndex != 0 {
		t.Fatalf("unexpected deposit event: %+v", ev)
	}
	if noteEv == nil || noteEv.Commitment != commitment {
		t.Fatalf("unexpected encrypted note event: %+v", noteEv)
	}

	size, err := tree.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("tree size = %d, want 1", size)
	}
}

func TestPrivateTransferRejectsUnknownRoot(t *testing.T) {
	pool, _ := newTestPool(t, &stubVerifier{acceptTransfer: true})
	pub := types.TransferPublicInputs{Root: types.HashFromBytes([]byte("unknown-root"))}
	_, _, err := pool.PrivateTransfer(context.Background(), pub, types.Proof{Circuit: types.CircuitTransfer}, nil, nil)
	if err != ErrUnknownRoot {
		t.Fatalf("PrivateTransfer(unknown root) = %v, want ErrUnknownRoot", err)
	}
}

func TestPrivateTransferRejectsInvalidProof(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptTransfer: false})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	pub := types.TransferPublicInputs{Root: root}
	_, _, err = pool.PrivateTransfer(ctx, pub, types.Proof{Circuit: types.CircuitTransfer}, nil, nil)
	if err != ErrInvalidProof {
		t.Fatalf("PrivateTransfer(rejected proof) = %v, want ErrInvalidProof", err)
	}
}

// TestPrivateTransferRejectsSpentNullifier covers double-spend rejection
// (P8, S4): a nullifier already marked spent must reject the whole
// operation with no state mutation.
func TestPrivateTransferRejectsSpentNullifier(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptTransfer: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	nullifier := types.HashFromBytes([]byte("nullifier"))
	if err := pool.Nullifiers.MarkSpent(ctx, nullifier); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}

	pub := types.TransferPublicInputs{
		Root:           root,
		Nullifier1:     nullifier,
		Nullifier2:     types.HashFromBytes([]byte("other-nullifier")),
		OutCommitment1: types.HashFromBytes([]byte("out1")),
		OutCommitment2: types.HashFromBytes([]byte("out2")),
	}
	sizeBefore, _ := tree.Size(ctx)
	_, _, err = pool.PrivateTransfer(ctx, pub, types.Proof{Circuit: types.CircuitTransfer}, nil, nil)
	if err != ErrNullifierSpent {
		t.Fatalf("PrivateTransfer(spent nullifier) = %v, want ErrNullifierSpent", err)
	}
	sizeAfter, _ := tree.Size(ctx)
	if sizeBefore != sizeAfter {
		t.Fatalf("PrivateTransfer mutated the tree despite rejection: %d != %d", sizeBefore, sizeAfter)
	}
}

func TestPrivateTransferAppliesAndEmitsEvents(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptTransfer: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	pub := types.TransferPublicInputs{
		Root:           root,
		Nullifier1:     types.HashFromBytes([]byte("n1")),
		Nullifier2:     types.HashFromBytes([]byte("n2")),
		OutCommitment1: types.HashFromBytes([]byte("out1")),
		OutCommitment2: types.HashFromBytes([]byte("out2")),
	}
	ev, noteEvents, err := pool.PrivateTransfer(ctx, pub, types.Proof{Circuit: types.CircuitTransfer}, []byte("note1"), []byte("note2"))
	if err != nil {
		t.Fatalf("PrivateTransfer: %v", err)
	}
	if ev.Nullifier1 != pub.Nullifier1 || ev.OutCommitment2 != pub.OutCommitment2 {
		t.Fatalf("unexpected transfer event: %+v", ev)
	}
	if len(noteEvents) != 2 {
		t.Fatalf("got %d note events, want 2", len(noteEvents))
	}

	size, err := tree.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 2 {
		t.Fatalf("tree size after transfer = %d, want 2", size)
	}

	spent, err := pool.Nullifiers.IsSpent(ctx, pub.Nullifier1)
	if err != nil {
		t.Fatalf("IsSpent: %v", err)
	}
	if !spent {
		t.Fatal("nullifier1 not marked spent after a successful transfer")
	}

	// A second attempt with the same nullifiers must now be rejected.
	_, _, err = pool.PrivateTransfer(ctx, pub, types.Proof{Circuit: types.CircuitTransfer}, nil, nil)
	if err != ErrNullifierSpent {
		t.Fatalf("replayed PrivateTransfer = %v, want ErrNullifierSpent", err)
	}
}

func TestWithdrawFullWithdrawalNoChangeOutput(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptWithdraw: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	pub := types.WithdrawPublicInputs{
		Root:             root,
		Nullifier:        types.HashFromBytes([]byte("nullifier")),
		Recipient:        types.AddressFromBytes([]byte("recipient")),
		Amount:           big.NewInt(1000),
		ChangeCommitment: types.EmptyHash,
	}
	ev, noteEv, err := pool.Withdraw(ctx, pub, types.Proof{Circuit: types.CircuitWithdraw}, nil)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if ev.Amount != 1000 || ev.Recipient != pub.Recipient {
		t.Fatalf("unexpected withdrawal event: %+v", ev)
	}
	if noteEv != nil {
		t.Fatalf("full withdrawal emitted a note event: %+v", noteEv)
	}

	size, err := tree.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("full withdrawal inserted a tree leaf, size = %d, want 0", size)
	}
}

func TestWithdrawPartialWithdrawalInsertsChangeOutput(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptWithdraw: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	changeCommitment := types.HashFromBytes([]byte("change"))
	pub := types.WithdrawPublicInputs{
		Root:             root,
		Nullifier:        types.HashFromBytes([]byte("nullifier")),
		Recipient:        types.AddressFromBytes([]byte("recipient")),
		Amount:           big.NewInt(600),
		ChangeCommitment: changeCommitment,
	}
	_, noteEv, err := pool.Withdraw(ctx, pub, types.Proof{Circuit: types.CircuitWithdraw}, []byte("change-note"))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if noteEv == nil || noteEv.Commitment != changeCommitment {
		t.Fatalf("unexpected change note event: %+v", noteEv)
	}

	size, err := tree.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("partial withdrawal tree size = %d, want 1", size)
	}
}

func TestWithdrawRejectsSpentNullifier(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptWithdraw: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	nullifier := types.HashFromBytes([]byte("nullifier"))
	if err := pool.Nullifiers.MarkSpent(ctx, nullifier); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}

	pub := types.WithdrawPublicInputs{
		Root:             root,
		Nullifier:        nullifier,
		Recipient:        types.AddressFromBytes([]byte("recipient")),
		Amount:           big.NewInt(1),
		ChangeCommitment: types.EmptyHash,
	}
	if _, _, err := pool.Withdraw(ctx, pub, types.Proof{Circuit: types.CircuitWithdraw}, nil); err != ErrNullifierSpent {
		t.Fatalf("Withdraw(spent nullifier) = %v, want ErrNullifierSpent", err)
	}
}

// TestDepositRejectsTokenCollaboratorFailure covers P7/I5 (token
// conservation): a token collaborator that refuses the pull must fail the
// whole deposit, leaving the tree untouched.
func TestDepositRejectsTokenCollaboratorFailure(t *testing.T) {
	ctx := context.Background()
	token := &stubTokenClient{pullErr: errors.New("insufficient allowance")}
	pool, tree := newTestPoolWithToken(t, &stubVerifier{}, token)
	commitment := types.HashFromBytes([]byte("commitment"))

	if _, _, err := pool.Deposit(ctx, commitment, 500, nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Deposit(token failure) = %v, want ErrTransferFailed", err)
	}

	size, err := tree.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Deposit mutated the tree despite a token collaborator failure, size = %d", size)
	}
}

func TestWithdrawRejectsZeroAddress(t *testing.T) {
	ctx := context.Background()
	pool, tree := newTestPool(t, &stubVerifier{acceptWithdraw: true})
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	pub := types.WithdrawPublicInputs{
		Root:             root,
		Nullifier:        types.HashFromBytes([]byte("nullifier")),
		Recipient:        types.EmptyAddress,
		Amount:           big.NewInt(1000),
		ChangeCommitment: types.EmptyHash,
	}
	if _, _, err := pool.Withdraw(ctx, pub, types.Proof{Circuit: types.CircuitWithdraw}, nil); err != ErrZeroAddress {
		t.Fatalf("Withdraw(zero recipient) = %v, want ErrZeroAddress", err)
	}

	spent, err := pool.Nullifiers.IsSpent(ctx, pub.Nullifier)
	if err != nil {
		t.Fatalf("IsSpent: %v", err)
	}
	if spent {
		t.Fatal("Withdraw(zero recipient) marked the nullifier spent despite rejection")
	}
}

// TestWithdrawRejectsTokenCollaboratorFailure covers the escrow side of
// P7/I5: an escrow that cannot cover the payout must fail the whole
// withdrawal rather than spend the nullifier for nothing.
func TestWithdrawRejectsTokenCollaboratorFailure(t *testing.T) {
	ctx := context.Background()
	token := &stubTokenClient{payErr: errors.New("escrow underfunded")}
	pool, tree := newTestPoolWithToken(t, &stubVerifier{acceptWithdraw: true}, token)
	root, err := tree.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	pub := types.WithdrawPublicInputs{
		Root:             root,
		Nullifier:        types.HashFromBytes([]byte("nullifier")),
		Recipient:        types.AddressFromBytes([]byte("recipient")),
		Amount:           big.NewInt(1000),
		ChangeCommitment: types.EmptyHash,
	}
	if _, _, err := pool.Withdraw(ctx, pub, types.Proof{Circuit: types.CircuitWithdraw}, nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Withdraw(token failure) = %v, want ErrTransferFailed", err)
	}

	spent, err := pool.Nullifiers.IsSpent(ctx, pub.Nullifier)
	if err != nil {
		t.Fatalf("IsSpent: %v", err)
	}
	if spent {
		t.Fatal("Withdraw(token failure) marked the nullifier spent despite rejection")
	}
}

// TestInMemoryTokenClientTracksEscrowBalance covers the S6 happy-path
// invariant: escrow grows on deposit and shrinks on withdrawal payout.
func TestInMemoryTokenClientTracksEscrowBalance(t *testing.T) {
	ctx := context.Background()
	token := NewInMemoryTokenClient()
	if err := token.PullDeposit(ctx, 700_000); err != nil {
		t.Fatalf("PullDeposit: %v", err)
	}
	if err := token.PullDeposit(ctx, 300_000); err != nil {
		t.Fatalf("PullDeposit: %v", err)
	}
	if err := token.PayWithdrawal(ctx, types.AddressFromBytes([]byte("recipient")), 300_000); err != nil {
		t.Fatalf("PayWithdrawal: %v", err)
	}
	if got := token.EscrowBalance(); got != 700_000 {
		t.Fatalf("escrow balance = %d, want 700000", got)
	}
}

func TestAdvanceBlockResetsLogIndex(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, &stubVerifier{})
	commitment := types.HashFromBytes([]byte("c"))

	ev1, _, err := pool.Deposit(ctx, commitment, 1, nil)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	pool.AdvanceBlock()
	ev2, _, err := pool.Deposit(ctx, types.HashFromBytes([]byte("c2")), 1, nil)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if ev1.ID.BlockNumber == ev2.ID.BlockNumber {
		t.Fatalf("AdvanceBlock did not change block number: %d == %d", ev1.ID.BlockNumber, ev2.ID.BlockNumber)
	}
	if ev2.ID.LogIndex != 0 {
		t.Fatalf("AdvanceBlock did not reset log index, got %d", ev2.ID.LogIndex)
	}
}
