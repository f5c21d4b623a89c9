// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"errors"
	"sync"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
	"github.com/kilnlabs/kiln/foundation/blockchain/mempool"
	"github.com/kilnlabs/kiln/foundation/blockchain/peer"
)

// ErrNotHeavier is returned from ProcessProposedChain when the candidate
// chain is structurally valid but does not carry strictly more cumulative
// work than the current chain. It represents a no-op, not a failure.
var ErrNotHeavier = errors.New("candidate chain is not heavier than the current chain")

// =============================================================================

// EventHandler defines a function that is called when events occur in the
// processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, peer updates, and sharing
// transactions and blocks.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
	SignalShareTx(blockTx database.BlockTx)
	SignalShareBlock(block database.Block)
}

// =============================================================================

// Config represents the configuration required to start the blockchain node.
type Config struct {
	BeneficiaryID database.AccountID
	Host          string
	KnownPeers    *peer.PeerSet
	EvHandler     EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	host          string
	evHandler     EventHandler

	knownPeers *peer.PeerSet
	genesis    genesis.Genesis
	mempool    *mempool.Mempool
	db         *database.Database

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// The consensus parameters and the genesis block are compiled in.
	g := genesis.Load()

	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		host:          cfg.Host,
		evHandler:     ev,

		knownPeers: cfg.KnownPeers,
		genesis:    g,
		mempool:    mempool.New(),
		db:         database.New(g),
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	return nil
}
