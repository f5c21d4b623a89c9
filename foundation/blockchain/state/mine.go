package state

import (
	"context"
	"time"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/difficulty"
)

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: pick transactions and difficulty")

	// Every block carries its reward transaction, so an empty mempool does
	// not stop a block from being produced.
	latest := s.db.LatestBlock()
	now := uint64(time.Now().UTC().Unix())

	// Transactions that can never commit against the current balance sheet
	// are evicted here. Leaving one in the mempool would make every mining
	// round fail at the commit and block all other transactions.
	picked, evict := s.db.SelectTransactions(s.mempool.PickBest(int(s.genesis.TransPerBlock)))
	for _, tx := range evict {
		s.evHandler("state: MineNewBlock: MINING: evict unspendable tx[%s]", tx.ID())
		s.mempool.Delete(tx)
	}

	reward := database.NewRewardTx(s.genesis.ChainID, s.beneficiaryID, s.genesis.MiningReward, latest.Header.Number+1, now)
	trans := append([]database.BlockTx{reward}, picked...)

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	// Attempt to create a new block by solving the POW puzzle. The search
	// does not hold the state lock and can be cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		BeneficiaryID: s.beneficiaryID,
		Difficulty:    difficulty.Next(s.genesis, s.db.Chain()),
		PrevBlock:     latest,
		TimeStamp:     now,
		Trans:         trans,
		EvHandler:     s.evHandler,
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: commit to local state")

	// The chain may have advanced while the search was running. The commit
	// revalidates against whatever the latest block is now; a stale result
	// simply fails here and the caller can remine.
	if err := s.commitBlock(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// commitBlock validates the block against the current latest block and, on
// success, atomically applies it to the chain and balance sheet. This is the
// only mutation path for a single block, used for both locally mined and
// peer-proposed blocks, and is serialized by the state mutex.
func (s *State) commitBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := uint64(time.Now().UTC().Unix())
	if err := block.ValidateBlock(s.db.LatestBlock(), now, s.evHandler); err != nil {
		return err
	}

	if err := s.db.ApplyBlock(block); err != nil {
		return err
	}

	s.evHandler("state: commitBlock: remove committed transactions from mempool")

	for _, tx := range block.Trans {
		s.mempool.Delete(tx)
	}

	// Let the network know about the new latest block. The signal is fire
	// and forget and never blocks the mutation path.
	s.Worker.SignalShareBlock(block)

	return nil
}
