package zkp

import (
	"crypto/rand"
	"errors"
	"sort"
	"sync"

	"github.com/shieldedpool/core/pkg/types"
)

// Wallet errors (spec §7 "Wallet-side (insufficient balance, no covering
// note, missing dummy for 2-in-2-out) — local, recoverable").
var (
	ErrInsufficientBalance  = errors.New("zkp: insufficient spendable balance")
	ErrTooManyInputs        = errors.New("zkp: select_notes supports at most two inputs")
	ErrMissingSecondInput   = errors.New("zkp: transfer requires two real input notes (see spec §9 dummy-input open question)")
)

// WalletNote is a note the wallet owns, together with its position in the
// tree and derived nullifier (spec §4.3 "add_note").
type WalletNote struct {
	Note        types.Note
	Commitment  types.Hash
	LeafIndex   uint64
	Nullifier   types.Hash
	insertOrder int
}

// SelectionMode controls how many inputs select_notes may return (spec
// §4.3).
type SelectionMode int

const (
	SelectOne SelectionMode = iota
	SelectTwo
)

// Wallet is the client-side note/key bookkeeping of C3: owned notes,
// the spent-nullifier set, and coin selection. Grounded on the teacher's
// internal/zkp/transaction.go TransactionBuilder input/output bookkeeping,
// generalized to spec §4.3's exact (amount, pubkey, blinding) note model.
type Wallet struct {
	mu sync.Mutex

	SpendingKey types.Hash
	SpendPubkey types.Hash
	ViewingSK   types.Hash

	notes       map[types.Hash]*WalletNote // by commitment
	spent       map[types.Hash]struct{}    // by nullifier
	insertCount int
}

// NewWallet derives a fresh wallet from a random spending key.
func NewWallet() (*Wallet, error) {
	var sk types.Hash
	if _, err := rand.Read(sk[:]); err != nil {
		return nil, err
	}
	return NewWalletFromSpendingKey(sk), nil
}

// NewWalletFromSpendingKey builds a wallet around an existing spending key
// (e.g. restored from custody storage — spec §1 treats key custody as an
// external interface).
func NewWalletFromSpendingKey(spendingKey types.Hash) *Wallet {
	return &Wallet{
		SpendingKey: spendingKey,
		SpendPubkey: SpendPubkey(spendingKey),
		ViewingSK:   ViewingSecretKey(spendingKey),
		notes:       make(map[types.Hash]*WalletNote),
		spent:       make(map[types.Hash]struct{}),
	}
}

// CreateNote builds a fresh note of the given amount, owned by this
// wallet, with uniformly sampled blinding (spec §4.3 "create_note").
func (w *Wallet) CreateNote(amount uint64) (types.Note, error) {
	var blinding types.Hash
	if _, err := rand.Read(blinding[:]); err != nil {
		return types.Note{}, err
	}
	return types.Note{Amount: amount, Pubkey: w.SpendPubkey, Blinding: blinding}, nil
}

// AddNote indexes note by its commitment and records its nullifier (spec
// §4.3 "add_note").
func (w *Wallet) AddNote(note types.Note, leafIndex uint64) *WalletNote {
	w.mu.Lock()
	defer w.mu.Unlock()

	commitment := NoteCommitment(note)
	wn := &WalletNote{
		Note:        note,
		Commitment:  commitment,
		LeafIndex:   leafIndex,
		Nullifier:   Nullifier(commitment, w.SpendingKey),
		insertOrder: w.insertCount,
	}
	w.insertCount++
	w.notes[commitment] = wn
	return wn
}

// MarkSpent records nullifier as locally spent (spec §4.3 "mark_spent").
func (w *Wallet) MarkSpent(nullifier types.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spent[nullifier] = struct{}{}
}

// IsSpent reports whether nullifier is in the wallet's local spent set.
func (w *Wallet) IsSpent(nullifier types.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, spent := w.spent[nullifier]
	return spent
}

// SpendableNotes returns owned, unspent notes ordered largest-amount-first,
// with ties broken by insertion order (spec §4.3 "spendable_notes").
func (w *Wallet) SpendableNotes() []*WalletNote {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*WalletNote, 0, len(w.notes))
	for _, wn := range w.notes {
		if _, spent := w.spent[wn.Nullifier]; spent {
			continue
		}
		out = append(out, wn)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Note.Amount != out[j].Note.Amount {
			return out[i].Note.Amount > out[j].Note.Amount
		}
		return out[i].insertOrder < out[j].insertOrder
	})
	return out
}

// Balance returns the sum of spendable note amounts (spec §4.3 "balance").
func (w *Wallet) Balance() uint64 {
	var total uint64
	for _, wn := range w.SpendableNotes() {
		total += wn.Note.Amount
	}
	return total
}

// SelectNotes greedily accumulates spendable notes, largest-first, until
// their sum covers amount, returning the selected inputs and the change
// due back to the wallet (spec §4.3 "select_notes"). For SelectTwo, at
// most two inputs are returned; if a single note already covers amount,
// only one input is returned and the caller must supply the dummy/second
// input itself — this wallet does not synthesize one (see
// ErrMissingSecondInput and spec §9's resolved Open Question).
func (w *Wallet) SelectNotes(amount uint64, mode SelectionMode) (inputs []*WalletNote, change uint64, err error) {
	maxInputs := 1
	if mode == SelectTwo {
		maxInputs = 2
	}

	var sum uint64
	for _, wn := range w.SpendableNotes() {
		if sum >= amount {
			break
		}
		if len(inputs) >= maxInputs {
			return nil, 0, ErrTooManyInputs
		}
		inputs = append(inputs, wn)
		sum += wn.Note.Amount
	}
	if sum < amount {
		return nil, 0, ErrInsufficientBalance
	}
	return inputs, sum - amount, nil
}
