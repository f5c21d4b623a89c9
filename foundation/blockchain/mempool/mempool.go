// Package mempool maintains the pool of transactions waiting to be mined
// into a block.
package mempool

import (
	"sort"
	"sync"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
)

// Mempool represents a cache of uncommitted transactions keyed by their
// transaction id.
type Mempool struct {
	pool map[string]database.BlockTx
	mu   sync.RWMutex
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]database.BlockTx),
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool and reports the new
// pool size.
func (mp *Mempool) Upsert(tx database.BlockTx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[tx.ID()] = tx

	return len(mp.pool)
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.BlockTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, tx.ID())
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.BlockTx)
}

// PickBest returns up to howMany transactions for the next block, oldest
// first. Spend transactions carry no fee, so arrival order is the fairest
// selection available. Ties on the timestamp break on the transaction id to
// keep selection deterministic.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	mp.mu.RLock()
	txs := make([]database.BlockTx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}
	mp.mu.RUnlock()

	sort.Slice(txs, func(i, j int) bool {
		if txs[i].TimeStamp != txs[j].TimeStamp {
			return txs[i].TimeStamp < txs[j].TimeStamp
		}
		return txs[i].ID() < txs[j].ID()
	})

	if len(txs) > howMany {
		txs = txs[:howMany]
	}

	return txs
}

// Copy returns a list of the current transactions in the pool.
func (mp *Mempool) Copy() []database.BlockTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.BlockTx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}

	return txs
}
