// Package difficulty implements the retargeting policy that keeps block
// production near the configured interval and the cumulative-work metric used
// for fork choice.
package difficulty

import (
	"math/big"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
)

// Next returns the difficulty to use for the next block appended to the
// chain. The difficulty is retargeted every AdjustmentInterval blocks;
// between retargets the latest block's difficulty carries forward. The
// genesis block never triggers a retarget.
func Next(g genesis.Genesis, chain []database.Block) uint64 {
	latest := chain[len(chain)-1]

	if latest.Header.Number != 0 && latest.Header.Number%g.AdjustmentInterval == 0 {
		return adjusted(g, chain)
	}

	return latest.Header.Difficulty
}

// adjusted compares the time the last adjustment window actually took against
// the expected time and moves the difficulty by at most one bit. Blocks that
// came in under half the expected time raise it; blocks that took more than
// double lower it, with a floor of zero.
func adjusted(g genesis.Genesis, chain []database.Block) uint64 {
	latest := chain[len(chain)-1]
	prevAdjustment := chain[len(chain)-int(g.AdjustmentInterval)]

	expectedSeconds := int64(g.BlockInterval.Seconds()) * int64(g.AdjustmentInterval)
	actualSeconds := int64(latest.Header.TimeStamp) - int64(prevAdjustment.Header.TimeStamp)

	switch {
	case actualSeconds < expectedSeconds/2:
		return prevAdjustment.Header.Difficulty + 1

	case actualSeconds > expectedSeconds*2:
		if prevAdjustment.Header.Difficulty == 0 {
			return 0
		}
		return prevAdjustment.Header.Difficulty - 1

	default:
		return prevAdjustment.Header.Difficulty
	}
}

// Work returns the cumulative work of the chain: the sum of 2^difficulty over
// all blocks. Difficulty counts required leading zero bits, so work grows
// exponentially and a short high-difficulty chain can outweigh a longer
// cheaper one. This value is the sole fork-choice criterion.
func Work(chain []database.Block) *big.Int {
	total := big.NewInt(0)

	one := big.NewInt(1)
	for _, block := range chain {
		work := new(big.Int).Lsh(one, uint(block.Header.Difficulty))
		total.Add(total, work)
	}

	return total
}
