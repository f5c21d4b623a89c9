package database_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// testDifficulty keeps mining fast inside the tests while still exercising
// the leading zero bits check.
const testDifficulty = 8

func nopEv(v string, args ...any) {}

// mineBlock performs the real POW search over the given transactions.
func mineBlock(t *testing.T, prevBlock database.Block, beneficiaryID database.AccountID, timeStamp uint64, trans []database.BlockTx) database.Block {
	t.Helper()

	block, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: beneficiaryID,
		Difficulty:    testDifficulty,
		PrevBlock:     prevBlock,
		TimeStamp:     timeStamp,
		Trans:         trans,
		EvHandler:     nopEv,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	return block
}

func newAccount(t *testing.T) (*ecdsa.PrivateKey, database.AccountID) {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
	}

	return privateKey, database.PublicKeyToAccountID(privateKey.PublicKey)
}

// =============================================================================

func Test_MineAndApplyBlock(t *testing.T) {
	t.Log("Given the need to mine a block and apply it to the chain.")
	{
		g := genesis.Load()
		db := database.New(g)
		_, beneficiaryID := newAccount(t)

		latest := db.LatestBlock()
		if latest.Header.Number != 0 {
			t.Fatalf("\t%s\tShould start the chain at the genesis block: got %d.", failed, latest.Header.Number)
		}
		t.Logf("\t%s\tShould start the chain at the genesis block.", success)

		if len(db.BalanceSheet()) != 0 {
			t.Fatalf("\t%s\tShould start with an empty balance sheet.", failed)
		}
		t.Logf("\t%s\tShould start with an empty balance sheet.", success)

		rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, latest.Header.TimeStamp+1)
		block := mineBlock(t, latest, beneficiaryID, latest.Header.TimeStamp+10, []database.BlockTx{rewardTx})
		t.Logf("\t%s\tShould be able to mine a block.", success)

		if err := block.ValidateBlock(latest, 0, nopEv); err != nil {
			t.Fatalf("\t%s\tShould be able to validate the mined block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to validate the mined block.", success)

		if err := db.ApplyBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to apply the mined block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply the mined block.", success)

		if db.LatestBlock().Hash() != block.Hash() {
			t.Fatalf("\t%s\tShould have the mined block as the latest block.", failed)
		}
		t.Logf("\t%s\tShould have the mined block as the latest block.", success)

		if bal := db.BalanceFor(beneficiaryID); bal != g.MiningReward {
			t.Fatalf("\t%s\tShould credit the beneficiary the mining reward: got %d, exp %d.", failed, bal, g.MiningReward)
		}
		t.Logf("\t%s\tShould credit the beneficiary the mining reward.", success)
	}
}

func Test_ApplyBlockRejections(t *testing.T) {
	t.Log("Given the need to reject blocks that don't extend the chain.")
	{
		g := genesis.Load()
		db := database.New(g)
		_, beneficiaryID := newAccount(t)

		gBlock := db.LatestBlock()
		rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)
		block1 := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

		if err := db.ApplyBlock(block1); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 1: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply block 1.", success)

		// A second copy of block 1 no longer extends the chain.
		if err := db.ApplyBlock(block1); err == nil {
			t.Fatalf("\t%s\tShould reject a block that doesn't extend the latest block.", failed)
		}
		t.Logf("\t%s\tShould reject a block that doesn't extend the latest block.", success)

		if db.Height() != 1 {
			t.Fatalf("\t%s\tShould leave the chain unchanged after a rejection: height %d.", failed, db.Height())
		}
		t.Logf("\t%s\tShould leave the chain unchanged after a rejection.", success)
	}
}

func Test_ValidateBlock(t *testing.T) {
	t.Log("Given the need to validate proposed blocks.")
	{
		g := genesis.Load()
		_, beneficiaryID := newAccount(t)

		gBlock := database.GenesisBlock(g)
		rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)
		block := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

		if err := block.ValidateBlock(gBlock, 0, nopEv); err != nil {
			t.Fatalf("\t%s\tShould validate a correctly mined block: %v", failed, err)
		}
		t.Logf("\t%s\tShould validate a correctly mined block.", success)

		wrongNumber := block
		wrongNumber.Header.Number = 5
		if err := wrongNumber.ValidateBlock(gBlock, 0, nopEv); !errors.Is(err, database.ErrChainForked) {
			t.Fatalf("\t%s\tShould signal a fork when the block number is two or more ahead: %v", failed, err)
		}
		t.Logf("\t%s\tShould signal a fork when the block number is two or more ahead.", success)

		twoAhead := block
		twoAhead.Header.Number = 2
		if err := twoAhead.ValidateBlock(gBlock, 0, nopEv); !errors.Is(err, database.ErrChainForked) {
			t.Fatalf("\t%s\tShould signal a fork when the block is exactly two ahead: %v", failed, err)
		}
		t.Logf("\t%s\tShould signal a fork when the block is exactly two ahead.", success)

		// Validating the block against itself makes it stale, not forked.
		if err := block.ValidateBlock(block, 0, nopEv); err == nil || errors.Is(err, database.ErrChainForked) {
			t.Fatalf("\t%s\tShould reject a stale block without signaling a fork: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a stale block without signaling a fork.", success)

		wrongParent := block
		wrongParent.Header.PrevBlockHash = "0x0000000000000000000000000000000000000000000000000000000000000001"
		if err := wrongParent.ValidateBlock(gBlock, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a block with the wrong parent hash.", failed)
		}
		t.Logf("\t%s\tShould reject a block with the wrong parent hash.", success)

		unsolved := block
		unsolved.Header.Difficulty = 256
		if err := unsolved.ValidateBlock(gBlock, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a block whose hash doesn't meet the difficulty.", failed)
		}
		t.Logf("\t%s\tShould reject a block whose hash doesn't meet the difficulty.", success)

		// The timestamp cases get their own POW search so the bounds are
		// what fails, not the invalidated hash.
		now := gBlock.Header.TimeStamp + 10
		future := mineBlock(t, gBlock, beneficiaryID, now+120, []database.BlockTx{rewardTx})
		if err := future.ValidateBlock(gBlock, now, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a block timestamped too far in the future.", failed)
		}
		t.Logf("\t%s\tShould reject a block timestamped too far in the future.", success)

		tooOld := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp-120, []database.BlockTx{rewardTx})
		if err := tooOld.ValidateBlock(gBlock, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a block timestamped too far before its parent.", failed)
		}
		t.Logf("\t%s\tShould reject a block timestamped too far before its parent.", success)

		badRoot := block
		badRoot.Trans = nil
		if err := badRoot.ValidateBlock(gBlock, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a block whose trans root doesn't match its transactions.", failed)
		}
		t.Logf("\t%s\tShould reject a block whose trans root doesn't match its transactions.", success)
	}
}

func Test_ValidateChain(t *testing.T) {
	t.Log("Given the need to validate a candidate chain from genesis.")
	{
		g := genesis.Load()
		_, beneficiaryID := newAccount(t)

		gBlock := database.GenesisBlock(g)
		rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)
		block1 := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

		rewardTx2 := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 2, block1.Header.TimeStamp+1)
		block2 := mineBlock(t, block1, beneficiaryID, block1.Header.TimeStamp+10, []database.BlockTx{rewardTx2})

		if err := database.ValidateChain([]database.Block{gBlock, block1, block2}, g, 0, nopEv); err != nil {
			t.Fatalf("\t%s\tShould validate a correctly linked chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould validate a correctly linked chain.", success)

		if err := database.ValidateChain(nil, g, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject an empty chain.", failed)
		}
		t.Logf("\t%s\tShould reject an empty chain.", success)

		badGenesis := gBlock
		badGenesis.Header.TimeStamp++
		if err := database.ValidateChain([]database.Block{badGenesis, block1, block2}, g, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a chain with the wrong genesis block.", failed)
		}
		t.Logf("\t%s\tShould reject a chain with the wrong genesis block.", success)

		if err := database.ValidateChain([]database.Block{gBlock, block2}, g, 0, nopEv); err == nil {
			t.Fatalf("\t%s\tShould reject a chain with a broken link.", failed)
		}
		t.Logf("\t%s\tShould reject a chain with a broken link.", success)
	}
}

func Test_BlockData(t *testing.T) {
	t.Log("Given the need to convert blocks to and from their network form.")
	{
		g := genesis.Load()
		_, beneficiaryID := newAccount(t)

		gBlock := database.GenesisBlock(g)
		rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)
		block := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

		blockData := database.NewBlockData(block)
		back, err := database.ToBlock(blockData)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to convert block data back to a block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to convert block data back to a block.", success)

		if back.Hash() != block.Hash() {
			t.Fatalf("\t%s\tShould get the same block hash back: got %s, exp %s.", failed, back.Hash(), block.Hash())
		}
		t.Logf("\t%s\tShould get the same block hash back.", success)

		tampered := blockData
		tampered.Header.Nonce++
		if _, err := database.ToBlock(tampered); err == nil {
			t.Fatalf("\t%s\tShould reject block data whose hash doesn't match its contents.", failed)
		}
		t.Logf("\t%s\tShould reject block data whose hash doesn't match its contents.", success)
	}
}

func Test_POWCancel(t *testing.T) {
	t.Log("Given the need to cancel a mining operation.")
	{
		g := genesis.Load()
		_, beneficiaryID := newAccount(t)
		gBlock := database.GenesisBlock(g)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := database.POW(ctx, database.POWArgs{
			BeneficiaryID: beneficiaryID,
			Difficulty:    256,
			PrevBlock:     gBlock,
			TimeStamp:     gBlock.Header.TimeStamp + 10,
			Trans:         []database.BlockTx{database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)},
			EvHandler:     nopEv,
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("\t%s\tShould stop mining when the context is cancelled: %v", failed, err)
		}
		t.Logf("\t%s\tShould stop mining when the context is cancelled.", success)
	}
}
