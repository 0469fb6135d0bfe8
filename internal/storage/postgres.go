// Package storage implements the PostgreSQL storage layer for the pool.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shieldedpool/core/internal/sync"
	"github.com/shieldedpool/core/internal/zkp"
	"github.com/shieldedpool/core/pkg/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrInvalidData  = errors.New("invalid data")
	ErrDBConnection = errors.New("database connection error")
)

// PostgresStore implements persistent storage for the pool's tree,
// nullifier registry, encrypted notes and event log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "shieldedpool",
		Password: "",
		Database: "shieldedpool",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ============================================
// Tree storage (C2/C8)
// ============================================

// TreeStore returns a zkp.TreeStore backed by this database. treeID lets
// more than one tree (e.g. per-asset pools) share a connection pool.
func (s *PostgresStore) TreeStore(treeID int32) *PostgresTreeStore {
	return &PostgresTreeStore{pool: s.pool, treeID: treeID}
}

// PostgresTreeStore implements zkp.TreeStore. The filled-subtree cache and
// root history live in a single row keyed by tree_id; leaves live in a
// separate table so a client-side membership-proof rebuild doesn't have
// to pull the whole row.
type PostgresTreeStore struct {
	pool   *pgxpool.Pool
	treeID int32
}

func (s *PostgresTreeStore) GetFilledSubtrees(ctx context.Context) ([]types.Hash, error) {
	var raw [][]byte
	err := s.pool.QueryRow(ctx, `SELECT filled_subtrees FROM tree_state WHERE tree_id = $1`, s.treeID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get filled subtrees: %w", err)
	}
	return bytesToHashes(raw), nil
}

func (s *PostgresTreeStore) SetFilledSubtrees(ctx context.Context, subtrees []types.Hash) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tree_state (tree_id, filled_subtrees) VALUES ($1, $2)
		ON CONFLICT (tree_id) DO UPDATE SET filled_subtrees = $2
	`, s.treeID, hashesToBytes(subtrees))
	return err
}

func (s *PostgresTreeStore) GetRootHistory(ctx context.Context) ([zkp.RootHistorySize]types.Hash, int, error) {
	var roots [zkp.RootHistorySize]types.Hash
	var raw [][]byte
	var curIdx int
	err := s.pool.QueryRow(ctx, `SELECT root_history, root_current_index FROM tree_state WHERE tree_id = $1`, s.treeID).
		Scan(&raw, &curIdx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return roots, 0, nil
		}
		return roots, 0, fmt.Errorf("get root history: %w", err)
	}
	for i := 0; i < len(raw) && i < zkp.RootHistorySize; i++ {
		copy(roots[i][:], raw[i])
	}
	return roots, curIdx, nil
}

func (s *PostgresTreeStore) SetRootHistory(ctx context.Context, roots [zkp.RootHistorySize]types.Hash, currentIndex int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tree_state (tree_id, root_history, root_current_index) VALUES ($1, $2, $3)
		ON CONFLICT (tree_id) DO UPDATE SET root_history = $2, root_current_index = $3
	`, s.treeID, hashesToBytes(roots[:]), currentIndex)
	return err
}

func (s *PostgresTreeStore) GetNextIndex(ctx context.Context) (uint64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `SELECT next_index FROM tree_state WHERE tree_id = $1`, s.treeID).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get next index: %w", err)
	}
	return uint64(next), nil
}

func (s *PostgresTreeStore) SetNextIndex(ctx context.Context, next uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tree_state (tree_id, next_index) VALUES ($1, $2)
		ON CONFLICT (tree_id) DO UPDATE SET next_index = $2
	`, s.treeID, int64(next))
	return err
}

func (s *PostgresTreeStore) GetLeaf(ctx context.Context, index uint64) (types.Hash, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT leaf FROM tree_leaves WHERE tree_id = $1 AND leaf_index = $2
	`, s.treeID, int64(index)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("get leaf: %w", err)
	}
	var h types.Hash
	copy(h[:], raw)
	return h, true, nil
}

func (s *PostgresTreeStore) SetLeaf(ctx context.Context, index uint64, leaf types.Hash) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tree_leaves (tree_id, leaf_index, leaf) VALUES ($1, $2, $3)
		ON CONFLICT (tree_id, leaf_index) DO UPDATE SET leaf = $3
	`, s.treeID, int64(index), leaf[:])
	return err
}

// ============================================
// Nullifier registry (C5/C8)
// ============================================

// NullifierStore returns a zkp.NullifierStore backed by this database.
func (s *PostgresStore) NullifierStore() *PostgresNullifierStore {
	return &PostgresNullifierStore{pool: s.pool}
}

// PostgresNullifierStore implements zkp.NullifierStore over an insert-only
// table: once a row exists it is never updated or deleted (spec I4).
type PostgresNullifierStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresNullifierStore) HasNullifier(ctx context.Context, nullifier types.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nullifiers WHERE nullifier = $1)`, nullifier[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check nullifier: %w", err)
	}
	return exists, nil
}

func (s *PostgresNullifierStore) AddNullifier(ctx context.Context, nullifier types.Hash) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO nullifiers (nullifier) VALUES ($1) ON CONFLICT (nullifier) DO NOTHING
	`, nullifier[:])
	if err != nil {
		return fmt.Errorf("add nullifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return zkp.ErrNullifierSpent
	}
	return nil
}

// ============================================
// Encrypted note store (C6/C8)
// ============================================

// EncryptedNoteStore returns a zkp.EncryptedNoteStore backed by this
// database.
func (s *PostgresStore) EncryptedNoteStore() *PostgresEncryptedNoteStore {
	return &PostgresEncryptedNoteStore{pool: s.pool}
}

// PostgresEncryptedNoteStore implements zkp.EncryptedNoteStore.
type PostgresEncryptedNoteStore struct {
	pool *pgxpool.Pool
}

func (s *PostgresEncryptedNoteStore) SaveEncryptedNote(ctx context.Context, commitment types.Hash, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO encrypted_notes (commitment, data) VALUES ($1, $2)
		ON CONFLICT (commitment) DO UPDATE SET data = $2
	`, commitment[:], data)
	return err
}

func (s *PostgresEncryptedNoteStore) GetEncryptedNote(ctx context.Context, commitment types.Hash) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM encrypted_notes WHERE commitment = $1`, commitment[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get encrypted note: %w", err)
	}
	return data, true, nil
}

// ============================================
// Pool event log (C7/C8)
// ============================================

// Event kinds stored in the pool_events table, matching internal/sync's
// EventKind values.
const (
	eventKindDeposit       = int16(sync.KindDeposit)
	eventKindTransfer      = int16(sync.KindTransfer)
	eventKindWithdrawal    = int16(sync.KindWithdrawal)
	eventKindEncryptedNote = int16(sync.KindEncryptedNote)
)

// EventLog returns a PostgresEventLog backed by this database.
func (s *PostgresStore) EventLog() *PostgresEventLog {
	return &PostgresEventLog{pool: s.pool}
}

// PostgresEventLog is both the append-only writer PoolState's caller
// drives after every successful operation, and the sync.EventSource the
// scan engine replays from (spec §4.7).
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

// AppendDeposit records a DepositEvent.
func (l *PostgresEventLog) AppendDeposit(ctx context.Context, ev *types.DepositEvent) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO pool_events (block_number, log_index, kind, commitment, amount, leaf_index, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID.BlockNumber, ev.ID.LogIndex, eventKindDeposit, ev.Commitment[:], int64(ev.Amount), int64(ev.LeafIndex), int64(ev.Timestamp))
	return err
}

// AppendTransfer records a PrivateTransferEvent.
func (l *PostgresEventLog) AppendTransfer(ctx context.Context, ev *types.PrivateTransferEvent) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO pool_events (block_number, log_index, kind, nullifier1, nullifier2, out_commitment1, out_commitment2, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID.BlockNumber, ev.ID.LogIndex, eventKindTransfer, ev.Nullifier1[:], ev.Nullifier2[:], ev.OutCommitment1[:], ev.OutCommitment2[:], int64(ev.Timestamp))
	return err
}

// AppendWithdrawal records a WithdrawalEvent.
func (l *PostgresEventLog) AppendWithdrawal(ctx context.Context, ev *types.WithdrawalEvent) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO pool_events (block_number, log_index, kind, nullifier1, recipient, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID.BlockNumber, ev.ID.LogIndex, eventKindWithdrawal, ev.Nullifier[:], ev.Recipient[:], int64(ev.Amount), int64(ev.Timestamp))
	return err
}

// AppendEncryptedNote records an EncryptedNoteEvent.
func (l *PostgresEventLog) AppendEncryptedNote(ctx context.Context, ev *types.EncryptedNoteEvent) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO pool_events (block_number, log_index, kind, commitment, encrypted_data)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID.BlockNumber, ev.ID.LogIndex, eventKindEncryptedNote, ev.Commitment[:], nullIfEmpty(ev.EncryptedData))
	return err
}

// LatestBlock implements sync.EventSource.
func (l *PostgresEventLog) LatestBlock(ctx context.Context) (uint64, error) {
	var latest *int64
	err := l.pool.QueryRow(ctx, `SELECT MAX(block_number) FROM pool_events`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	if latest == nil {
		return 0, nil
	}
	return uint64(*latest), nil
}

// FetchRange implements sync.EventSource. Rows for each kind are queried
// independently and merged rather than scanned through a single
// wide nullable row, since the event kinds don't share a column shape.
func (l *PostgresEventLog) FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]sync.RawEvent, error) {
	var events []sync.RawEvent

	depositRows, err := l.pool.Query(ctx, `
		SELECT block_number, log_index, commitment, amount, leaf_index, timestamp
		FROM pool_events WHERE kind = $1 AND block_number BETWEEN $2 AND $3
	`, eventKindDeposit, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch deposits: %w", err)
	}
	for depositRows.Next() {
		var ev types.DepositEvent
		var commitment []byte
		var amount, leafIndex, timestamp int64
		if err := depositRows.Scan(&ev.ID.BlockNumber, &ev.ID.LogIndex, &commitment, &amount, &leafIndex, &timestamp); err != nil {
			depositRows.Close()
			return nil, err
		}
		copy(ev.Commitment[:], commitment)
		ev.Amount, ev.LeafIndex, ev.Timestamp = uint64(amount), uint64(leafIndex), uint64(timestamp)
		events = append(events, sync.RawEvent{ID: ev.ID, Kind: sync.KindDeposit, Deposit: &ev})
	}
	depositRows.Close()

	transferRows, err := l.pool.Query(ctx, `
		SELECT block_number, log_index, nullifier1, nullifier2, out_commitment1, out_commitment2, timestamp
		FROM pool_events WHERE kind = $1 AND block_number BETWEEN $2 AND $3
	`, eventKindTransfer, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch transfers: %w", err)
	}
	for transferRows.Next() {
		var ev types.PrivateTransferEvent
		var n1, n2, c1, c2 []byte
		var timestamp int64
		if err := transferRows.Scan(&ev.ID.BlockNumber, &ev.ID.LogIndex, &n1, &n2, &c1, &c2, &timestamp); err != nil {
			transferRows.Close()
			return nil, err
		}
		copy(ev.Nullifier1[:], n1)
		copy(ev.Nullifier2[:], n2)
		copy(ev.OutCommitment1[:], c1)
		copy(ev.OutCommitment2[:], c2)
		ev.Timestamp = uint64(timestamp)
		events = append(events, sync.RawEvent{ID: ev.ID, Kind: sync.KindTransfer, Transfer: &ev})
	}
	transferRows.Close()

	withdrawalRows, err := l.pool.Query(ctx, `
		SELECT block_number, log_index, nullifier1, recipient, amount, timestamp
		FROM pool_events WHERE kind = $1 AND block_number BETWEEN $2 AND $3
	`, eventKindWithdrawal, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch withdrawals: %w", err)
	}
	for withdrawalRows.Next() {
		var ev types.WithdrawalEvent
		var nullifier, recipient []byte
		var amount, timestamp int64
		if err := withdrawalRows.Scan(&ev.ID.BlockNumber, &ev.ID.LogIndex, &nullifier, &recipient, &amount, &timestamp); err != nil {
			withdrawalRows.Close()
			return nil, err
		}
		copy(ev.Nullifier[:], nullifier)
		ev.Recipient = types.AddressFromBytes(recipient)
		ev.Amount = uint64(amount)
		ev.Timestamp = uint64(timestamp)
		events = append(events, sync.RawEvent{ID: ev.ID, Kind: sync.KindWithdrawal, Withdrawal: &ev})
	}
	withdrawalRows.Close()

	noteRows, err := l.pool.Query(ctx, `
		SELECT block_number, log_index, commitment, encrypted_data
		FROM pool_events WHERE kind = $1 AND block_number BETWEEN $2 AND $3
	`, eventKindEncryptedNote, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch encrypted notes: %w", err)
	}
	for noteRows.Next() {
		var ev types.EncryptedNoteEvent
		var commitment []byte
		if err := noteRows.Scan(&ev.ID.BlockNumber, &ev.ID.LogIndex, &commitment, &ev.EncryptedData); err != nil {
			noteRows.Close()
			return nil, err
		}
		copy(ev.Commitment[:], commitment)
		events = append(events, sync.RawEvent{ID: ev.ID, Kind: sync.KindEncryptedNote, EncryptedNote: &ev})
	}
	noteRows.Close()

	sort.SliceStable(events, func(i, j int) bool { return events[i].ID.Less(events[j].ID) })
	return events, nil
}

// ============================================
// Helper Functions
// ============================================

func hashesToBytes(hs []types.Hash) [][]byte {
	out := make([][]byte, len(hs))
	for i, h := range hs {
		out[i] = append([]byte(nil), h[:]...)
	}
	return out
}

func bytesToHashes(raw [][]byte) []types.Hash {
	out := make([]types.Hash, len(raw))
	for i, b := range raw {
		copy(out[i][:], b)
	}
	return out
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
