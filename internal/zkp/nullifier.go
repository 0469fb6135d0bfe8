package zkp

import (
	"context"
	"errors"
	"sync"

	"github.com/shieldedpool/core/pkg/types"
)

// Nullifier registry errors.
var (
	ErrNullifierSpent = errors.New("zkp: nullifier already spent")
)

// NullifierStore is the persistence boundary for the write-once nullifier
// registry (spec §3: "insert-only"; I4: "once present, a nullifier is
// permanent"). On-chain this is naturally a mapping; off-chain it is any
// unordered container with O(1) membership (spec §9).
type NullifierStore interface {
	HasNullifier(ctx context.Context, nullifier types.Hash) (bool, error)
	AddNullifier(ctx context.Context, nullifier types.Hash) error
}

// NullifierSet is the in-process write-once nullifier registry backing
// C5's double-spend prevention. A cache in front of the persistent store
// holds the nullifiers this set has marked spent, so checks for those do
// not round-trip to storage; every other check (including every check of
// an unspent nullifier) goes to the store, and store hits are not cached.
type NullifierSet struct {
	mu    sync.RWMutex
	cache map[types.Hash]struct{}
	store NullifierStore
}

// NewNullifierSet creates a nullifier set backed by store.
func NewNullifierSet(store NullifierStore) *NullifierSet {
	return &NullifierSet{
		cache: make(map[types.Hash]struct{}),
		store: store,
	}
}

// IsSpent reports whether nullifier has already been marked spent.
func (ns *NullifierSet) IsSpent(ctx context.Context, nullifier types.Hash) (bool, error) {
	ns.mu.RLock()
	_, inCache := ns.cache[nullifier]
	ns.mu.RUnlock()
	if inCache {
		return true, nil
	}
	return ns.store.HasNullifier(ctx, nullifier)
}

// MarkSpent inserts nullifier into the registry. It fails with
// ErrNullifierSpent if the nullifier is already present (I4 monotonicity);
// callers that need the "reject if any nullifier already spent" check
// from spec §4.5 should call IsSpent first, since MarkSpent is meant to
// run only after a pool operation's proof has already been accepted.
func (ns *NullifierSet) MarkSpent(ctx context.Context, nullifier types.Hash) error {
	spent, err := ns.IsSpent(ctx, nullifier)
	if err != nil {
		return err
	}
	if spent {
		return ErrNullifierSpent
	}
	if err := ns.store.AddNullifier(ctx, nullifier); err != nil {
		return err
	}
	ns.mu.Lock()
	ns.cache[nullifier] = struct{}{}
	ns.mu.Unlock()
	return nil
}

// BatchCheck reports the spent status of each nullifier in order.
func (ns *NullifierSet) BatchCheck(ctx context.Context, nullifiers []types.Hash) ([]bool, error) {
	results := make([]bool, len(nullifiers))
	for i, n := range nullifiers {
		spent, err := ns.IsSpent(ctx, n)
		if err != nil {
			return nil, err
		}
		results[i] = spent
	}
	return results, nil
}

// InMemoryNullifierStore is a NullifierStore for tests and for wallets
// that don't need cross-process persistence.
type InMemoryNullifierStore struct {
	mu         sync.RWMutex
	nullifiers map[types.Hash]struct{}
}

// NewInMemoryNullifierStore creates an empty in-memory nullifier store.
func NewInMemoryNullifierStore() *InMemoryNullifierStore {
	return &InMemoryNullifierStore{nullifiers: make(map[types.Hash]struct{})}
}

func (s *InMemoryNullifierStore) HasNullifier(ctx context.Context, nullifier types.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.nullifiers[nullifier]
	return exists, nil
}

func (s *InMemoryNullifierStore) AddNullifier(ctx context.Context, nullifier types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nullifiers[nullifier]; exists {
		return ErrNullifierSpent
	}
	s.nullifiers[nullifier] = struct{}{}
	return nil
}

// Size returns the number of nullifiers recorded.
func (s *InMemoryNullifierStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nullifiers)
}
