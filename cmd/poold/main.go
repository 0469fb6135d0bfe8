// poold is the shielded pool daemon: it serves the C5 pool state machine
// over the C9 p2p gossip network, backed by C8 Postgres persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shieldedpool/core/internal/p2p"
	"github.com/shieldedpool/core/internal/storage"
	"github.com/shieldedpool/core/internal/sync"
	"github.com/shieldedpool/core/internal/zkp"
)

const (
	version = "0.1.0"
	banner  = `
 ____  _     _      _     _          _ ____             _
/ ___|| |__ (_) ___| | __| | ___  __| |  _ \ ___   ___ | |
\___ \| '_ \| |/ _ \ |/ _' |/ _ \/ _' | |_) / _ \ / _ \| |
 ___) | | | | |  __/ | (_| |  __/ (_| |  __/ (_) | (_) | |
|____/|_| |_|_|\___|_|\__,_|\___|\__,_|_|   \___/ \___/|_|

  poold v%s
  Shielded payment pool daemon
`
)

// Config holds node configuration
type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Network
	ListenAddr string
	RPCAddr    string

	// Pool (spec §6 configuration keys)
	RPCURL         string
	PoolAddress    string
	TokenAddress   string
	DeployBlock    uint64
	TreeLevels     int
	ProverEndpoint string

	// Logging
	LogLevel string
	LogFile  string

	// Data
	DataDir string
}

func main() {
	cfg := parseFlags()

	fmt.Printf(banner, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	// Database flags
	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "shieldedpool", "PostgreSQL user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "shieldedpool", "PostgreSQL database name")

	// Network flags
	flag.StringVar(&cfg.ListenAddr, "listen", "/ip4/0.0.0.0/tcp/9000", "P2P listen address")
	flag.StringVar(&cfg.RPCAddr, "rpc", "127.0.0.1:9001", "RPC server address")

	// Pool flags (spec §6)
	flag.StringVar(&cfg.RPCURL, "rpc-url", "", "collateral chain RPC endpoint (not used: poold's token escrow is an in-memory ledger)")
	flag.StringVar(&cfg.PoolAddress, "pool-address", "", "deployed pool contract address, if the pool is chain-anchored")
	flag.StringVar(&cfg.TokenAddress, "token-address", "", "escrowed token contract address")
	flag.Uint64Var(&cfg.DeployBlock, "deploy-block", 0, "block the pool was deployed at (not read by sync, which does not skip blocks below it)")
	flag.IntVar(&cfg.TreeLevels, "tree-levels", 20, "commitment tree depth L")
	flag.StringVar(&cfg.ProverEndpoint, "prover-endpoint", "", "remote Groth16 proving service (not used: poold generates no proofs)")

	// Logging flags
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty for stdout)")

	// Data flags
	flag.StringVar(&cfg.DataDir, "data-dir", "./data", "Data directory")

	flag.Parse()

	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	fmt.Println("Initializing shielded pool node...")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fmt.Println("Connecting to database...")
	dbConfig := &storage.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  "disable",
		MaxConns: 20,
	}

	store, err := storage.NewPostgresStore(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()
	fmt.Println("Database connected.")

	fmt.Println("Initializing commitment tree...")
	tree, err := zkp.NewTree(store.TreeStore(0), cfg.TreeLevels)
	if err != nil {
		return fmt.Errorf("failed to build tree: %w", err)
	}
	if size, err := tree.Size(ctx); err == nil && size == 0 {
		if err := tree.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize tree: %w", err)
		}
	}

	nullifiers := zkp.NewNullifierSet(store.NullifierStore())
	notes := store.EncryptedNoteStore()

	fmt.Println("Compiling circuits...")
	circuits := zkp.NewCircuitManager()
	if err := circuits.Setup(zkp.ProofTypeTransfer, &zkp.TransferCircuit{}); err != nil {
		return fmt.Errorf("failed to set up transfer circuit: %w", err)
	}
	if err := circuits.Setup(zkp.ProofTypeWithdraw, &zkp.WithdrawCircuit{}); err != nil {
		return fmt.Errorf("failed to set up withdraw circuit: %w", err)
	}
	if err := circuits.Setup(zkp.ProofTypeRangeDisclosure, &zkp.RangeDisclosureCircuit{}); err != nil {
		return fmt.Errorf("failed to set up range disclosure circuit: %w", err)
	}
	verifier := &zkp.CircuitVerifier{Circuits: circuits}

	// cfg.TokenAddress names the real escrowed token when the pool is
	// chain-anchored; without an on-chain RPC client in this tree, poold
	// runs its own escrow ledger, matching what a single-writer daemon
	// with no chain underneath it would do.
	token := zkp.NewInMemoryTokenClient()
	pool := zkp.NewPoolState(tree, nullifiers, notes, verifier, token)
	eventLog := store.EventLog()

	fmt.Println("Starting P2P network...")
	p2pConfig := p2p.DefaultConfig()
	p2pConfig.ListenAddrs = []string{cfg.ListenAddr}
	node, err := p2p.NewNode(ctx, p2pConfig)
	if err != nil {
		return fmt.Errorf("failed to start p2p node: %w", err)
	}
	defer node.Close()
	node.Start()
	fmt.Printf("P2P node started. ID: %s\n", node.ID())

	engine := sync.NewEngine(eventLog, tree, nullifiers, nil, sync.DefaultConfig())
	if err := engine.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	fmt.Printf("Synced to block %d.\n", engine.Cursor())

	root, err := pool.Tree.Root(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pool root: %w", err)
	}
	size, err := pool.Tree.Size(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pool tree size: %w", err)
	}
	fmt.Printf("Pool root: %s, leaves: %d\n", root, size)

	// TODO: Initialize remaining components
	// - RPC server submitting Deposit/PrivateTransfer/Withdraw to pool
	// - broadcasting the resulting events over node's gossip topics
	// - periodic re-sync against peer-sourced events (p2p.PubSubEventSource)

	fmt.Println("Shielded pool node started successfully!")
	fmt.Println("Press Ctrl+C to stop.")

	<-ctx.Done()

	fmt.Println("Node stopped.")
	return nil
}
