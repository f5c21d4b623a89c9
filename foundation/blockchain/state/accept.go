package state

import (
	"time"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/difficulty"
)

// ProcessProposedBlock takes a block received from a peer, validates it and
// if that passes, appends it to the chain. A failure leaves the chain and
// balance sheet exactly as they were.
func (s *State) ProcessProposedBlock(block database.Block) error {
	s.evHandler("state: ProcessProposedBlock: started: blk[%s]", block.Hash())
	defer s.evHandler("state: ProcessProposedBlock: completed")

	// If a mining operation is in progress, its result will no longer
	// extend the chain. Cancel it before taking the mutation lock.
	s.Worker.SignalCancelMining()

	return s.commitBlock(block)
}

// ProcessProposedChain takes a full candidate chain received from a peer and
// replaces the canonical chain with it when the candidate is structurally
// valid and carries strictly more cumulative work. Either the entire
// candidate is adopted or nothing changes.
func (s *State) ProcessProposedChain(blocks []database.Block) error {
	s.evHandler("state: ProcessProposedChain: started: blocks[%d]", len(blocks))
	defer s.evHandler("state: ProcessProposedChain: completed")

	s.Worker.SignalCancelMining()

	// Structural validation walks the candidate from genesis forward and
	// needs no access to our own chain, so it runs before the lock.
	now := uint64(time.Now().UTC().Unix())
	if err := database.ValidateChain(blocks, s.genesis, now, s.evHandler); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidateWork := difficulty.Work(blocks)
	currentWork := difficulty.Work(s.db.Chain())

	s.evHandler("state: ProcessProposedChain: fork choice: candidate[%s] current[%s]", candidateWork, currentWork)

	// Strict greater-than: a tie keeps the existing chain.
	if candidateWork.Cmp(currentWork) <= 0 {
		return ErrNotHeavier
	}

	if err := s.db.ReplaceChain(blocks); err != nil {
		return err
	}

	s.evHandler("state: ProcessProposedChain: chain replaced: height[%d]", blocks[len(blocks)-1].Header.Number)

	s.Worker.SignalShareBlock(blocks[len(blocks)-1])

	return nil
}
