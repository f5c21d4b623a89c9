// Package database maintains the in-memory chain of blocks and the balance
// sheet of spendable outputs derived from it. The chain and the sheet are
// always mutated together: a block either applies cleanly and both advance,
// or nothing changes.
package database

import (
	"fmt"
	"sync"

	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
)

// Database manages the canonical chain and the derived balance sheet. State
// lives only in process memory for the lifetime of the run.
type Database struct {
	mu sync.RWMutex

	genesis genesis.Genesis
	chain   []Block
	sheet   BalanceSheet
}

// New constructs a new database seeded with the hard-coded genesis block and
// an empty balance sheet.
func New(g genesis.Genesis) *Database {
	return &Database{
		genesis: g,
		chain:   []Block{GenesisBlock(g)},
		sheet:   newBalanceSheet(),
	}
}

// LatestBlock returns the current latest block in the chain.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[len(db.chain)-1]
}

// Chain returns a copy of the canonical chain, genesis first.
func (db *Database) Chain() []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	chain := make([]Block, len(db.chain))
	copy(chain, db.chain)

	return chain
}

// Height returns the block number of the latest block.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[len(db.chain)-1].Header.Number
}

// ApplyBlock appends a structurally validated block to the chain and folds
// its transactions into the balance sheet. If any transaction fails, neither
// the chain nor the sheet is changed.
func (db *Database) ApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	latest := db.chain[len(db.chain)-1]
	if block.Header.PrevBlockHash != latest.Hash() {
		return fmt.Errorf("block does not extend the latest block, got %s, exp %s", block.Header.PrevBlockHash, latest.Hash())
	}

	sheet, err := db.sheet.applyBlock(db.genesis.ChainID, db.genesis.MiningReward, block)
	if err != nil {
		return err
	}

	db.chain = append(db.chain, block)
	db.sheet = sheet

	return nil
}

// SelectTransactions trial-applies the candidate transactions in order
// against a copy of the current balance sheet. It returns the transactions
// that would commit cleanly and, separately, the ones that would fail so the
// caller can evict them instead of retrying them forever.
func (db *Database) SelectTransactions(trans []BlockTx) (spendable []BlockTx, unspendable []BlockTx) {
	db.mu.RLock()
	sheet := db.sheet.clone()
	db.mu.RUnlock()

	for _, tx := range trans {

		// The block reward only enters a block through mining, never as a
		// candidate.
		if tx.IsReward() {
			unspendable = append(unspendable, tx)
			continue
		}

		// A failed application can leave the trial sheet partially mutated,
		// so each transaction gets its own copy to fail against.
		next := sheet.clone()
		if err := next.applyTransaction(db.genesis.ChainID, db.genesis.MiningReward, tx); err != nil {
			unspendable = append(unspendable, tx)
			continue
		}

		sheet = next
		spendable = append(spendable, tx)
	}

	return spendable, unspendable
}

// ReplaceChain swaps the canonical chain for the candidate and rederives the
// balance sheet from the candidate's full transaction history. The caller is
// responsible for structural validation and the fork-choice comparison. If
// any block's transactions fail to apply, nothing changes.
func (db *Database) ReplaceChain(blocks []Block) error {
	sheet := newBalanceSheet()
	for _, block := range blocks[1:] {
		next, err := sheet.applyBlock(db.genesis.ChainID, db.genesis.MiningReward, block)
		if err != nil {
			return fmt.Errorf("blk[%d]: %w", block.Header.Number, err)
		}
		sheet = next
	}

	chain := make([]Block, len(blocks))
	copy(chain, blocks)

	db.mu.Lock()
	defer db.mu.Unlock()

	db.chain = chain
	db.sheet = sheet

	return nil
}

// BalanceSheet returns a copy of the current set of spendable outputs.
func (db *Database) BalanceSheet() map[OutputID]TxOutput {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.sheet.Values()
}

// OutputsFor returns the spendable outputs owned by the specified account.
func (db *Database) OutputsFor(accountID AccountID) map[OutputID]TxOutput {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.sheet.OutputsFor(accountID)
}

// BalanceFor sums the spendable value owned by the specified account.
func (db *Database) BalanceFor(accountID AccountID) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.sheet.BalanceFor(accountID)
}
