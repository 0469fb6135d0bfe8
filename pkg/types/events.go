package types

// EventID totally orders events within the on-chain log, matching the
// chain's own (block_number, log_index) order (spec §4.7 step 2).
type EventID struct {
	BlockNumber uint64
	LogIndex    uint32
}

// Less reports whether e sorts strictly before other under ascending
// (block_number, log_index) order.
func (e EventID) Less(other EventID) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// DepositEvent corresponds to the on-chain Deposit(commitment, amount,
// leaf_index, timestamp) event (spec §6).
type DepositEvent struct {
	ID         EventID
	Commitment Hash
	Amount     uint64
	LeafIndex  uint64
	Timestamp  uint64
}

// PrivateTransferEvent corresponds to PrivateTransfer(nullifier1,
// nullifier2, out_commitment_1, out_commitment_2, timestamp).
type PrivateTransferEvent struct {
	ID             EventID
	Nullifier1     Hash
	Nullifier2     Hash
	OutCommitment1 Hash
	OutCommitment2 Hash
	Timestamp      uint64
}

// WithdrawalEvent corresponds to Withdrawal(nullifier, recipient, amount,
// timestamp). It deliberately omits the change commitment (spec §4.7
// step 3 / §9): sync recovers it only from the matching EncryptedNote
// event; there is no fallback that decodes the originating
// WithdrawPublicInputs.
type WithdrawalEvent struct {
	ID        EventID
	Nullifier Hash
	Recipient Address
	Amount    uint64
	Timestamp uint64
}

// EncryptedNoteEvent corresponds to EncryptedNote(commitment,
// encrypted_data).
type EncryptedNoteEvent struct {
	ID            EventID
	Commitment    Hash
	EncryptedData []byte
}
