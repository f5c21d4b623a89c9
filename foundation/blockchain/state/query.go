package state

import (
	"math/big"
	"time"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/difficulty"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
	"github.com/kilnlabs/kiln/foundation/blockchain/peer"
)

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveHost returns a copy of the host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveLatestBlock returns a copy of the current latest block.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.db.LatestBlock()
}

// RetrieveChain returns a copy of the canonical chain, genesis first.
func (s *State) RetrieveChain() []database.Block {
	return s.db.Chain()
}

// RetrieveCumulativeWork returns the cumulative work of the canonical chain.
func (s *State) RetrieveCumulativeWork() *big.Int {
	return difficulty.Work(s.db.Chain())
}

// RetrieveMempool returns a copy of the mempool.
func (s *State) RetrieveMempool() []database.BlockTx {
	return s.mempool.Copy()
}

// RetrieveBalanceSheet returns a copy of the current set of spendable
// outputs.
func (s *State) RetrieveBalanceSheet() map[database.OutputID]database.TxOutput {
	return s.db.BalanceSheet()
}

// QueryOutputsByAccount returns the spendable outputs owned by the specified
// account.
func (s *State) QueryOutputsByAccount(accountID database.AccountID) map[database.OutputID]database.TxOutput {
	return s.db.OutputsFor(accountID)
}

// QueryBalanceByAccount returns the spendable value owned by the specified
// account.
func (s *State) QueryBalanceByAccount(accountID database.AccountID) uint64 {
	return s.db.BalanceFor(accountID)
}

// =============================================================================

// RetrieveKnownPeers retrieves a copy of the known peer list without this
// node.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer to the known peer list.
func (s *State) AddKnownPeer(peer peer.Peer) bool {
	return s.knownPeers.Add(peer)
}

// RemoveKnownPeer provides the ability to remove a peer from the known peer
// list.
func (s *State) RemoveKnownPeer(peer peer.Peer) {
	s.knownPeers.Remove(peer)
}

// =============================================================================

// UpsertWalletTransaction accepts a signed transaction from a wallet, places
// it in the mempool and signals the network to share it and start mining.
func (s *State) UpsertWalletTransaction(signedTx database.SignedTx) error {

	// Check the transaction is signed for this chain before accepting it.
	// Whether its inputs are spendable is decided when a block is applied.
	if err := signedTx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	tx := database.NewBlockTx(signedTx, uint64(time.Now().UTC().Unix()))

	n := s.mempool.Upsert(tx)
	s.evHandler("state: UpsertWalletTransaction: mempool[%d]", n)

	s.Worker.SignalShareTx(tx)
	s.Worker.SignalStartMining()

	return nil
}

// UpsertNodeTransaction accepts a transaction shared by another node and
// places it in the mempool.
func (s *State) UpsertNodeTransaction(tx database.BlockTx) error {
	if err := tx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	n := s.mempool.Upsert(tx)
	s.evHandler("state: UpsertNodeTransaction: mempool[%d]", n)

	s.Worker.SignalStartMining()

	return nil
}
