package sync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shieldedpool/core/internal/zkp"
	"github.com/shieldedpool/core/pkg/types"
)

// Scan engine errors.
var (
	ErrEventOutOfOrder = errors.New("sync: source returned an event out of (block_number, log_index) order")
)

// Config controls how the engine paginates through an EventSource.
// Grounded on the teacher's p2p.SyncConfig (BatchSize/RequestTimeout
// shape), narrowed to the one knob that matters for a log-replay scan.
type Config struct {
	BatchBlocks uint64
}

// DefaultConfig returns the engine's default batching.
func DefaultConfig() *Config {
	return &Config{BatchBlocks: 2000}
}

// Engine rebuilds a local commitment tree and nullifier view from a pool's
// event log, and scans each EncryptedNote event against an optional
// wallet's viewing key to discover owned notes (spec §4.7). Grounded on
// the teacher's internal/p2p/sync.go SyncManager progress-tracking shape
// (syncing bool, progress/target cursor), replacing its DAG block-fetch
// loop with event-log pagination.
type Engine struct {
	mu sync.Mutex

	Source     EventSource
	Tree       *zkp.Tree
	Nullifiers *zkp.NullifierSet
	Wallet     *zkp.Wallet // optional; nil for a pure indexer with no notes to discover

	cfg *Config

	cursor  uint64
	syncing bool

	// inserted tracks commitments already placed into the tree this
	// process's lifetime, so a withdrawal's change commitment (which
	// arrives only as an EncryptedNote event, see replay's
	// KindEncryptedNote case) is not double-inserted when it was already
	// placed by its sibling Deposit/Transfer event. A deployment backed
	// by a persistent TreeStore would instead query leaf-by-commitment;
	// this in-memory set is the simplification a single-process engine
	// can get away with between restarts of the same sync from scratch.
	inserted map[types.Hash]uint64
}

// NewEngine wires a scan engine. tree and nullifiers should be views the
// engine is the sole mutator of — a separate instance per wallet, or a
// shared read replica for an indexer.
func NewEngine(source EventSource, tree *zkp.Tree, nullifiers *zkp.NullifierSet, wallet *zkp.Wallet, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{Source: source, Tree: tree, Nullifiers: nullifiers, Wallet: wallet, cfg: cfg, inserted: make(map[types.Hash]uint64)}
}

// Cursor returns the last block number fully replayed.
func (e *Engine) Cursor() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// IsSyncing reports whether a Sync call is in progress.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Sync pulls every event since the last call, replays it in
// (block_number, log_index) order into the tree and nullifier set, and
// feeds EncryptedNote events to the wallet (spec §4.7 steps 1-5):
//  1. collect events in the range (cursor, latest]
//  2. linearize by event order
//  3. rebuild the tree / nullifier view
//  4. scan encrypted notes against the wallet's viewing key
//  5. refresh spent state: mark the wallet's own notes spent when their
//     nullifier appears in a replayed transfer or withdrawal
//
// The cursor only advances past a batch once every step above has
// completed for it.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	latest, err := e.Source.LatestBlock(ctx)
	if err != nil {
		return err
	}

	from := e.Cursor() + 1
	for from <= latest {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		to := from + e.cfg.BatchBlocks - 1
		if to > latest {
			to = latest
		}

		events, err := e.Source.FetchRange(ctx, from, to)
		if err != nil {
			return err
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].ID.Less(events[j].ID) })

		if err := e.replay(ctx, events); err != nil {
			return err
		}

		e.mu.Lock()
		e.cursor = to
		e.mu.Unlock()
		from = to + 1
	}

	return nil
}

func (e *Engine) replay(ctx context.Context, events []RawEvent) error {
	var prev types.EventID
	havePrev := false

	for _, ev := range events {
		if havePrev && !prev.Less(ev.ID) {
			return ErrEventOutOfOrder
		}
		prev, havePrev = ev.ID, true

		switch ev.Kind {
		case KindDeposit:
			if _, err := e.insertCommitment(ctx, ev.Deposit.Commitment); err != nil {
				return err
			}
		case KindTransfer:
			if err := e.Nullifiers.MarkSpent(ctx, ev.Transfer.Nullifier1); err != nil && !errors.Is(err, zkp.ErrNullifierSpent) {
				return err
			}
			if err := e.Nullifiers.MarkSpent(ctx, ev.Transfer.Nullifier2); err != nil && !errors.Is(err, zkp.ErrNullifierSpent) {
				return err
			}
			e.refreshWalletSpent(ev.Transfer.Nullifier1)
			e.refreshWalletSpent(ev.Transfer.Nullifier2)
			if _, err := e.insertCommitment(ctx, ev.Transfer.OutCommitment1); err != nil {
				return err
			}
			if _, err := e.insertCommitment(ctx, ev.Transfer.OutCommitment2); err != nil {
				return err
			}
		case KindWithdrawal:
			if err := e.Nullifiers.MarkSpent(ctx, ev.Withdrawal.Nullifier); err != nil && !errors.Is(err, zkp.ErrNullifierSpent) {
				return err
			}
			e.refreshWalletSpent(ev.Withdrawal.Nullifier)
			// The change commitment (if any) arrives as its own
			// KindEncryptedNote event and is inserted there, since
			// WithdrawalEvent deliberately omits it (spec §9).
		case KindEncryptedNote:
			leafIndex, err := e.insertCommitment(ctx, ev.EncryptedNote.Commitment)
			if err != nil {
				return err
			}
			e.scanOwnedNote(ev.EncryptedNote, leafIndex)
		}
	}
	return nil
}

// insertCommitment inserts commitment into the tree unless it has already
// been inserted by an earlier event in this process's lifetime (see the
// Engine.inserted doc comment), returning the leaf index it occupies
// either way.
func (e *Engine) insertCommitment(ctx context.Context, commitment types.Hash) (uint64, error) {
	e.mu.Lock()
	leafIndex, already := e.inserted[commitment]
	e.mu.Unlock()
	if already {
		return leafIndex, nil
	}
	leafIndex, err := e.Tree.Insert(ctx, commitment)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.inserted[commitment] = leafIndex
	e.mu.Unlock()
	return leafIndex, nil
}

// refreshWalletSpent marks a replayed nullifier spent in the wallet's own
// view if it belongs to a note the wallet owns (spec §4.7 step 5 "refresh
// spent state"). Without this, a wallet that spent one of its own notes
// through a path other than this engine's replay (or re-syncs from an
// earlier cursor) would keep surfacing that note from SpendableNotes/
// Balance even though its nullifier is already on-chain.
func (e *Engine) refreshWalletSpent(nullifier types.Hash) {
	if e.Wallet == nil {
		return
	}
	for _, wn := range e.Wallet.SpendableNotes() {
		if wn.Nullifier == nullifier {
			e.Wallet.MarkSpent(nullifier)
			return
		}
	}
}

// scanOwnedNote attempts to open an EncryptedNote event's ciphertext
// against the wallet's viewing key, adding the note if it opens. A note
// that doesn't belong to this wallet fails to open and is silently
// skipped — that is the entire point of the envelope (spec §4.6/§4.7).
func (e *Engine) scanOwnedNote(ev *types.EncryptedNoteEvent, leafIndex uint64) {
	if e.Wallet == nil {
		return
	}
	note, err := zkp.Open(ev.EncryptedData, e.Wallet.ViewingSK)
	if err != nil {
		return
	}
	if zkp.NoteCommitment(note) != ev.Commitment {
		return
	}
	e.Wallet.AddNote(note, leafIndex)
}
