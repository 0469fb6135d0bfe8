package zkp

import "testing"

func TestNewWalletFromSpendingKeyDerivesKeys(t *testing.T) {
	sk := make([]byte, 32)
	copy(sk, []byte("a-spending-key"))
	var h [32]byte
	copy(h[:], sk)

	w := NewWalletFromSpendingKey(h)
	if w.SpendPubkey != SpendPubkey(h) {
		t.Fatal("wallet SpendPubkey does not match SpendPubkey(spendingKey)")
	}
	if w.ViewingSK != ViewingSecretKey(h) {
		t.Fatal("wallet ViewingSK does not match ViewingSecretKey(spendingKey)")
	}
}

func TestAddNoteIndexesByCommitmentAndDerivesNullifier(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	note, err := w.CreateNote(100)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	wn := w.AddNote(note, 0)

	if wn.Commitment != NoteCommitment(note) {
		t.Fatal("WalletNote.Commitment does not match NoteCommitment(note)")
	}
	if wn.Nullifier != Nullifier(wn.Commitment, w.SpendingKey) {
		t.Fatal("WalletNote.Nullifier does not match Nullifier(commitment, spendingKey)")
	}
}

func TestMarkSpentExcludesNoteFromSpendable(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	note, err := w.CreateNote(50)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	wn := w.AddNote(note, 0)

	if w.Balance() != 50 {
		t.Fatalf("Balance = %d, want 50", w.Balance())
	}

	w.MarkSpent(wn.Nullifier)
	if !w.IsSpent(wn.Nullifier) {
		t.Fatal("IsSpent false after MarkSpent")
	}
	if w.Balance() != 0 {
		t.Fatalf("Balance after spend = %d, want 0", w.Balance())
	}
	if len(w.SpendableNotes()) != 0 {
		t.Fatalf("SpendableNotes after spend = %d entries, want 0", len(w.SpendableNotes()))
	}
}

func TestSpendableNotesOrderedLargestFirst(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	amounts := []uint64{10, 100, 50}
	for i, a := range amounts {
		note, err := w.CreateNote(a)
		if err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
		w.AddNote(note, uint64(i))
	}

	spendable := w.SpendableNotes()
	if len(spendable) != 3 {
		t.Fatalf("got %d spendable notes, want 3", len(spendable))
	}
	for i := 1; i < len(spendable); i++ {
		if spendable[i-1].Note.Amount < spendable[i].Note.Amount {
			t.Fatalf("SpendableNotes not sorted largest-first: %v", spendable)
		}
	}
}

func TestSelectNotesSingleCoveringNote(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	note, err := w.CreateNote(100)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	w.AddNote(note, 0)

	inputs, change, err := w.SelectNotes(60, SelectOne)
	if err != nil {
		t.Fatalf("SelectNotes: %v", err)
	}
	if len(inputs) != 1 {
		t.Fatalf("got %d inputs, want 1", len(inputs))
	}
	if change != 40 {
		t.Fatalf("change = %d, want 40", change)
	}
}

func TestSelectNotesTwoInputsAccumulate(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	n1, _ := w.CreateNote(30)
	n2, _ := w.CreateNote(40)
	w.AddNote(n1, 0)
	w.AddNote(n2, 1)

	inputs, change, err := w.SelectNotes(50, SelectTwo)
	if err != nil {
		t.Fatalf("SelectNotes: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(inputs))
	}
	if change != 20 {
		t.Fatalf("change = %d, want 20", change)
	}
}

func TestSelectNotesRejectsWhenInsufficientBalance(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	note, _ := w.CreateNote(10)
	w.AddNote(note, 0)

	if _, _, err := w.SelectNotes(100, SelectOne); err != ErrInsufficientBalance {
		t.Fatalf("SelectNotes(insufficient) = %v, want ErrInsufficientBalance", err)
	}
}

func TestSelectNotesSelectTwoRejectsAThirdNote(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	for i, a := range []uint64{5, 5, 5} {
		note, _ := w.CreateNote(a)
		w.AddNote(note, uint64(i))
	}
	if _, _, err := w.SelectNotes(100, SelectTwo); err != ErrTooManyInputs {
		t.Fatalf("SelectNotes(too many) = %v, want ErrTooManyInputs", err)
	}
}
