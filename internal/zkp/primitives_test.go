package zkp

import (
	"testing"

	"github.com/shieldedpool/core/pkg/types"
)

// zeroHashVector is Z_0, the keccak256 of 32 zero bytes (spec §3 S1). Every
// implementation must reproduce this byte-exact value.
const zeroHashVector = "0x290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563"

func TestZeroSubtreeVector(t *testing.T) {
	z := zeroSubtrees(1)
	if got := z[0].String(); got != zeroHashVector {
		t.Fatalf("Z_0 = %s, want %s", got, zeroHashVector)
	}
}

func TestCommitmentDeterministic(t *testing.T) {
	pubkey := types.HashFromBytes([]byte("pubkey"))
	blinding := types.HashFromBytes([]byte("blinding"))

	c1 := Commitment(100, pubkey, blinding)
	c2 := Commitment(100, pubkey, blinding)
	if c1 != c2 {
		t.Fatalf("Commitment is not deterministic: %s != %s", c1, c2)
	}
}

func TestCommitmentSensitiveToEachField(t *testing.T) {
	pubkey := types.HashFromBytes([]byte("pubkey"))
	blinding := types.HashFromBytes([]byte("blinding"))
	base := Commitment(100, pubkey, blinding)

	if c := Commitment(101, pubkey, blinding); c == base {
		t.Fatal("Commitment ignores amount")
	}
	otherPubkey := types.HashFromBytes([]byte("other-pubkey"))
	if c := Commitment(100, otherPubkey, blinding); c == base {
		t.Fatal("Commitment ignores pubkey")
	}
	otherBlinding := types.HashFromBytes([]byte("other-blinding"))
	if c := Commitment(100, pubkey, otherBlinding); c == base {
		t.Fatal("Commitment ignores blinding")
	}
}

func TestNoteCommitmentMatchesCommitment(t *testing.T) {
	n := types.Note{
		Amount:   42,
		Pubkey:   types.HashFromBytes([]byte("pubkey")),
		Blinding: types.HashFromBytes([]byte("blinding")),
	}
	if got, want := NoteCommitment(n), Commitment(n.Amount, n.Pubkey, n.Blinding); got != want {
		t.Fatalf("NoteCommitment = %s, want %s", got, want)
	}
}

func TestNullifierDeterministicAndSensitive(t *testing.T) {
	commitment := types.HashFromBytes([]byte("commitment"))
	spendingKey := types.HashFromBytes([]byte("spending-key"))

	n1 := Nullifier(commitment, spendingKey)
	n2 := Nullifier(commitment, spendingKey)
	if n1 != n2 {
		t.Fatalf("Nullifier is not deterministic: %s != %s", n1, n2)
	}

	otherKey := types.HashFromBytes([]byte("other-spending-key"))
	if n3 := Nullifier(commitment, otherKey); n3 == n1 {
		t.Fatal("Nullifier ignores spending key")
	}
}

func TestSpendPubkeyDeterministic(t *testing.T) {
	sk := types.HashFromBytes([]byte("spending-key"))
	if p1, p2 := SpendPubkey(sk), SpendPubkey(sk); p1 != p2 {
		t.Fatalf("SpendPubkey is not deterministic: %s != %s", p1, p2)
	}
	other := types.HashFromBytes([]byte("other-key"))
	if SpendPubkey(sk) == SpendPubkey(other) {
		t.Fatal("SpendPubkey collided across distinct spending keys")
	}
}

func TestHashPairOrderMatters(t *testing.T) {
	left := types.HashFromBytes([]byte("left"))
	right := types.HashFromBytes([]byte("right"))
	if HashPair(left, right) == HashPair(right, left) {
		t.Fatal("HashPair is symmetric, want order-sensitive")
	}
}

func TestViewingSecretKeyDeterministic(t *testing.T) {
	sk := types.HashFromBytes([]byte("spending-key"))
	if v1, v2 := ViewingSecretKey(sk), ViewingSecretKey(sk); v1 != v2 {
		t.Fatalf("ViewingSecretKey is not deterministic: %s != %s", v1, v2)
	}
	if ViewingSecretKey(sk) == SpendPubkey(sk) {
		t.Fatal("ViewingSecretKey collides with SpendPubkey, domain separation broken")
	}
}
