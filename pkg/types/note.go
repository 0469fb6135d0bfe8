package types

// Note is the private UTXO-style record backed by a commitment in the
// pool's Merkle tree: an amount, an owner identifier (spend_pubkey) and a
// blinding factor that randomizes the commitment.
//
// amount uses the token's smallest unit; a u64 is load-bearing for the
// circuit's public-input encoding (see pkg/types.TransferPublicInputs /
// WithdrawPublicInputs) and must not be widened.
type Note struct {
	Amount   uint64
	Pubkey   Hash
	Blinding Hash
}

// Zero reports whether the note is a zero-amount note (used only to
// detect would-be dummy inputs; §4.4.1 requires real two-input transfers,
// so the core never constructs a zero note itself).
func (n Note) Zero() bool {
	return n.Amount == 0
}
