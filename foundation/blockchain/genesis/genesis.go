// Package genesis maintains the hard-coded genesis block and the consensus
// parameters that every node on the chain must agree on. The values are
// compiled in, not loaded from disk, so two nodes built from the same source
// can never disagree about block zero.
package genesis

import (
	"time"
)

// Genesis represents the fixed consensus parameters for the chain.
type Genesis struct {
	Date               time.Time     `json:"date"`
	ChainID            uint16        `json:"chain_id"`            // Unique id for this chain to prevent replay across chains.
	TransPerBlock      uint16        `json:"trans_per_block"`     // Maximum number of transactions in a block.
	MiningReward       uint64        `json:"mining_reward"`       // Reward for mining a block.
	BlockInterval      time.Duration `json:"block_interval"`      // Target time between blocks.
	AdjustmentInterval uint64        `json:"adjustment_interval"` // Number of blocks between difficulty retargets.
}

// Load returns the chain's consensus parameters.
func Load() Genesis {
	return Genesis{
		Date:               time.Date(2023, time.March, 10, 0, 0, 0, 0, time.UTC),
		ChainID:            1,
		TransPerBlock:      50,
		MiningReward:       700,
		BlockInterval:      10 * time.Second,
		AdjustmentInterval: 10,
	}
}
