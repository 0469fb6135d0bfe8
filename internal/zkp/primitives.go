// Package zkp implements the privacy protocol kernel: note cryptography
// (C1), the incremental Merkle tree (C2), wallet bookkeeping (C3), the
// transfer/withdraw circuit statements (C4), the pool state machine (C5),
// the note-encryption envelope (C6) and the compliance disclosure
// extension (C11).
package zkp

import (
	"golang.org/x/crypto/sha3"

	"github.com/shieldedpool/core/pkg/types"
)

// keccak256 is the single hash backend every derivation in this package
// goes through, so the statement checker (statement.go) and the wallet
// agree bit-for-bit (spec §4.1, §9 "polymorphism over hash backends").
func keccak256(parts ...[]byte) types.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Commitment computes commitment = keccak256(amount_be8 ‖ pubkey ‖
// blinding), preimage length 72 bytes (spec §3).
func Commitment(amount uint64, pubkey, blinding types.Hash) types.Hash {
	return keccak256(uint64BE(amount), pubkey[:], blinding[:])
}

// NoteCommitment is a convenience wrapper over Commitment for a types.Note.
func NoteCommitment(n types.Note) types.Hash {
	return Commitment(n.Amount, n.Pubkey, n.Blinding)
}

// Nullifier computes nullifier = keccak256(commitment ‖ spending_key),
// preimage length 64 bytes (spec §3).
func Nullifier(commitment, spendingKey types.Hash) types.Hash {
	return keccak256(commitment[:], spendingKey[:])
}

// SpendPubkey computes spend_pubkey = keccak256(spending_key), the note
// owner's public identifier (spec §3).
func SpendPubkey(spendingKey types.Hash) types.Hash {
	return keccak256(spendingKey[:])
}

// HashPair computes the internal Merkle node hash = keccak256(left ‖
// right) used uniformly by C2, C4 and C5 (spec §3, §9).
func HashPair(left, right types.Hash) types.Hash {
	return keccak256(left[:], right[:])
}

// viewingDomain is the 7-ASCII-byte domain prefix for viewing-key
// derivation (spec §3: `viewing_sk = keccak256("viewing" ‖ spending_key)`).
var viewingDomain = []byte("viewing")

// ViewingSecretKey derives the note owner's viewing secret key from their
// spending key. viewing_sk is interpreted as a curve25519 scalar; the
// matching public key is computed by envelope.go's ViewingPublicKey.
func ViewingSecretKey(spendingKey types.Hash) types.Hash {
	return keccak256(viewingDomain, spendingKey[:])
}
