// Package sync implements the scan engine (C7): pulling pool events from
// whatever is authoritative for them, linearizing by event order, and
// replaying them into a local tree/nullifier view and a wallet's owned
// notes.
package sync

import (
	"context"

	"github.com/shieldedpool/core/pkg/types"
)

// EventKind discriminates the union stored in RawEvent.
type EventKind int

const (
	KindDeposit EventKind = iota
	KindTransfer
	KindWithdrawal
	KindEncryptedNote
)

// RawEvent is one pool event tagged with its ordering key (spec §4.7
// "events are totally ordered by (block_number, log_index)").
type RawEvent struct {
	ID            types.EventID
	Kind          EventKind
	Deposit       *types.DepositEvent
	Transfer      *types.PrivateTransferEvent
	Withdrawal    *types.WithdrawalEvent
	EncryptedNote *types.EncryptedNoteEvent
}

// EventSource is the boundary between the scan engine and wherever pool
// events actually live (a chain's event log, an indexing database, a p2p
// feed). FetchRange must return every event with fromBlock <= block_number
// <= toBlock; the engine does the sorting.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error)
}

// WithdrawCalldataSource is an optional capability an EventSource may
// implement to recover a withdrawal's change note when no EncryptedNote
// event was emitted for it (spec §9's resolved open question: prefer the
// EncryptedNote event; fall back to decoding the withdrawal's own public
// inputs only if no such event exists — recovering the change amount and
// commitment, but not the wallet's blinding, which a source without the
// circuit's witness can never hand back). Engine.Sync does not consult
// this interface, and no EventSource in this module implements it.
type WithdrawCalldataSource interface {
	WithdrawPublicInputsFor(ctx context.Context, id types.EventID) (*types.WithdrawPublicInputs, bool, error)
}
