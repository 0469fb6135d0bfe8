package zkp

import (
	"context"
	"testing"

	"github.com/shieldedpool/core/pkg/types"
)

func TestCreateRangeDisclosureRejectsOutOfRangeValue(t *testing.T) {
	note := types.Note{Amount: 500, Pubkey: types.HashFromBytes([]byte("p")), Blinding: types.HashFromBytes([]byte("b"))}
	dm := NewDisclosureManager(NewCircuitManager())

	if _, err := dm.CreateRangeDisclosure(context.Background(), note, 0, 100); err != ErrValueOutOfRange {
		t.Fatalf("CreateRangeDisclosure(above max) = %v, want ErrValueOutOfRange", err)
	}
	if _, err := dm.CreateRangeDisclosure(context.Background(), note, 600, 1000); err != ErrValueOutOfRange {
		t.Fatalf("CreateRangeDisclosure(below min) = %v, want ErrValueOutOfRange", err)
	}
}
