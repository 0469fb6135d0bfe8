// Package zkp implements the note-encryption envelope (C6): sealing a
// note to its recipient's viewing key and opening envelopes a wallet
// receives during sync, using NaCl box (curve25519 + XSalsa20-Poly1305).
package zkp

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/shieldedpool/core/pkg/types"
)

// Envelope errors (spec §4.6).
var (
	ErrEnvelopeTooShort   = errors.New("zkp: encrypted note shorter than the envelope header")
	ErrEnvelopeOpenFailed = errors.New("zkp: encrypted note does not open under this viewing key")
	ErrPlaintextWrongSize = errors.New("zkp: note plaintext has unexpected length")
)

const (
	notePlaintextSize = 8 + types.HashSize + types.HashSize // amount ‖ pubkey ‖ blinding
	envelopeHeaderSize = 32 + 24                            // ephemeral pubkey ‖ nonce
)

// ViewingPublicKey derives the curve25519 public key matching
// ViewingSecretKey(spendingKey), the key a sender encrypts a note's
// plaintext to (spec §3, §4.6).
func ViewingPublicKey(viewingSK types.Hash) ([32]byte, error) {
	var pub [32]byte
	scalar, err := curve25519.X25519(viewingSK[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], scalar)
	return pub, nil
}

func encodeNotePlaintext(n types.Note) []byte {
	out := make([]byte, 0, notePlaintextSize)
	out = append(out, uint64BE(n.Amount)...)
	out = append(out, n.Pubkey[:]...)
	out = append(out, n.Blinding[:]...)
	return out
}

func decodeNotePlaintext(data []byte) (types.Note, error) {
	if len(data) != notePlaintextSize {
		return types.Note{}, ErrPlaintextWrongSize
	}
	var n types.Note
	for i := 0; i < 8; i++ {
		n.Amount = n.Amount<<8 | uint64(data[i])
	}
	copy(n.Pubkey[:], data[8:8+types.HashSize])
	copy(n.Blinding[:], data[8+types.HashSize:])
	return n, nil
}

// Seal encrypts note to recipientViewingPubkey, returning an envelope of
// ephemeral_pubkey(32) ‖ nonce(24) ‖ ciphertext (spec §4.6). A fresh
// ephemeral keypair is generated per call so the sender's own identity is
// never revealed by the envelope.
func Seal(n types.Note, recipientViewingPubkey [32]byte) ([]byte, error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	plaintext := encodeNotePlaintext(n)

	out := make([]byte, 0, envelopeHeaderSize+box.Overhead+notePlaintextSize)
	out = append(out, ephemeralPub[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, plaintext, &nonce, &recipientViewingPubkey, ephemeralPriv)
	return out, nil
}

// Open attempts to decrypt an envelope under viewingSK, the secret key
// matching the public key the envelope was sealed to. A scan engine calls
// this once per candidate envelope per owned viewing key (spec §4.7); a
// wrong key fails cleanly with ErrEnvelopeOpenFailed rather than returning
// garbage, since box.Open authenticates before decrypting.
func Open(envelope []byte, viewingSK types.Hash) (types.Note, error) {
	if len(envelope) < envelopeHeaderSize {
		return types.Note{}, ErrEnvelopeTooShort
	}

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], envelope[:32])
	var nonce [24]byte
	copy(nonce[:], envelope[32:56])
	ciphertext := envelope[56:]

	var priv [32]byte
	copy(priv[:], viewingSK[:])

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &ephemeralPub, &priv)
	if !ok {
		return types.Note{}, ErrEnvelopeOpenFailed
	}

	return decodeNotePlaintext(plaintext)
}
