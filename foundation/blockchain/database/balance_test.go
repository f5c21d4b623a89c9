package database_test

import (
	"crypto/ecdsa"
	"testing"

	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
)

// rewardDB constructs a database with one mined block crediting the
// beneficiary with the full mining reward. It returns the database and the
// output id holding that reward.
func rewardDB(t *testing.T, g genesis.Genesis, beneficiaryID database.AccountID) (*database.Database, database.OutputID) {
	t.Helper()

	db := database.New(g)
	gBlock := db.LatestBlock()

	rewardTx := database.NewRewardTx(g.ChainID, beneficiaryID, g.MiningReward, 1, gBlock.Header.TimeStamp+1)
	block := mineBlock(t, gBlock, beneficiaryID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

	if err := db.ApplyBlock(block); err != nil {
		t.Fatalf("\t%s\tShould be able to apply the reward block: %v", failed, err)
	}

	return db, database.NewOutputID(rewardTx.ID(), 0)
}

// signedSpend builds and signs a transaction consuming the given output.
func signedSpend(t *testing.T, g genesis.Genesis, privateKey *ecdsa.PrivateKey, outputID database.OutputID, outputs []database.TxOutput) database.BlockTx {
	t.Helper()

	txID, index, err := database.ParseOutputID(outputID)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the output id: %v", failed, err)
	}

	tx, err := database.NewTx(g.ChainID, []database.TxInput{{TxID: txID, OutIndex: index}}, outputs)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
	}

	return database.NewBlockTx(signedTx, 1)
}

// =============================================================================

func Test_SpendOutputs(t *testing.T) {
	t.Log("Given the need to move value between accounts by spending outputs.")
	{
		g := genesis.Load()
		minerKey, minerID := newAccount(t)
		_, otherID := newAccount(t)

		db, rewardOutputID := rewardDB(t, g, minerID)
		t.Logf("\t%s\tShould be able to credit the miner through a reward block.", success)

		spendTx := signedSpend(t, g, minerKey, rewardOutputID, []database.TxOutput{
			{OwnerID: otherID, Value: 200},
			{OwnerID: minerID, Value: g.MiningReward - 200},
		})

		block1 := db.LatestBlock()
		block2 := mineBlock(t, block1, minerID, block1.Header.TimeStamp+10, []database.BlockTx{spendTx})
		if err := db.ApplyBlock(block2); err != nil {
			t.Fatalf("\t%s\tShould be able to apply the spending block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply the spending block.", success)

		if bal := db.BalanceFor(otherID); bal != 200 {
			t.Fatalf("\t%s\tShould credit the receiver: got %d, exp %d.", failed, bal, 200)
		}
		t.Logf("\t%s\tShould credit the receiver.", success)

		if bal := db.BalanceFor(minerID); bal != g.MiningReward-200 {
			t.Fatalf("\t%s\tShould return the change to the sender: got %d, exp %d.", failed, bal, g.MiningReward-200)
		}
		t.Logf("\t%s\tShould return the change to the sender.", success)

		if _, exists := db.BalanceSheet()[rewardOutputID]; exists {
			t.Fatalf("\t%s\tShould remove the consumed output from the balance sheet.", failed)
		}
		t.Logf("\t%s\tShould remove the consumed output from the balance sheet.", success)

		if outs := db.OutputsFor(otherID); len(outs) != 1 {
			t.Fatalf("\t%s\tShould have one spendable output for the receiver: got %d.", failed, len(outs))
		}
		t.Logf("\t%s\tShould have one spendable output for the receiver.", success)
	}
}

func Test_RejectInvalidSpends(t *testing.T) {
	type table struct {
		name string
		txFn func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx
	}

	g := genesis.Load()

	tt := []table{
		{
			name: "unbalanced",
			txFn: func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx {
				otherID := database.PublicKeyToAccountID(otherKey.PublicKey)
				return signedSpend(t, g, minerKey, rewardOutputID, []database.TxOutput{
					{OwnerID: otherID, Value: g.MiningReward + 1},
				})
			},
		},
		{
			name: "not-owner",
			txFn: func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx {
				otherID := database.PublicKeyToAccountID(otherKey.PublicKey)
				return signedSpend(t, g, otherKey, rewardOutputID, []database.TxOutput{
					{OwnerID: otherID, Value: g.MiningReward},
				})
			},
		},
		{
			name: "unknown-output",
			txFn: func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx {
				otherID := database.PublicKeyToAccountID(otherKey.PublicKey)
				return signedSpend(t, g, minerKey, database.NewOutputID("0xdeadbeef", 0), []database.TxOutput{
					{OwnerID: otherID, Value: g.MiningReward},
				})
			},
		},
		{
			name: "wrong-chain",
			txFn: func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx {
				wrongChain := g
				wrongChain.ChainID++
				otherID := database.PublicKeyToAccountID(otherKey.PublicKey)
				return signedSpend(t, wrongChain, minerKey, rewardOutputID, []database.TxOutput{
					{OwnerID: otherID, Value: g.MiningReward},
				})
			},
		},
		{
			name: "double-reference",
			txFn: func(t *testing.T, g genesis.Genesis, minerKey *ecdsa.PrivateKey, otherKey *ecdsa.PrivateKey, rewardOutputID database.OutputID) database.BlockTx {
				txID, index, err := database.ParseOutputID(rewardOutputID)
				if err != nil {
					t.Fatalf("\t%s\tShould be able to parse the output id: %v", failed, err)
				}

				otherID := database.PublicKeyToAccountID(otherKey.PublicKey)
				in := database.TxInput{TxID: txID, OutIndex: index}
				tx, err := database.NewTx(g.ChainID, []database.TxInput{in, in}, []database.TxOutput{
					{OwnerID: otherID, Value: 2 * g.MiningReward},
				})
				if err != nil {
					t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
				}

				signedTx, err := tx.Sign(minerKey)
				if err != nil {
					t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
				}

				return database.NewBlockTx(signedTx, 1)
			},
		},
	}

	t.Log("Given the need to reject transactions that violate the spending rules.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a %s transaction.", testID, tst.name)
			{
				f := func(t *testing.T) {
					minerKey, minerID := newAccount(t)
					otherKey, _ := newAccount(t)

					db, rewardOutputID := rewardDB(t, g, minerID)
					before := db.BalanceSheet()

					badTx := tst.txFn(t, g, minerKey, otherKey, rewardOutputID)

					block1 := db.LatestBlock()
					block2 := mineBlock(t, block1, minerID, block1.Header.TimeStamp+10, []database.BlockTx{badTx})
					if err := db.ApplyBlock(block2); err == nil {
						t.Fatalf("\t%s\tTest %d:\tShould reject the invalid transaction.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the invalid transaction.", success, testID)

					if db.Height() != 1 {
						t.Fatalf("\t%s\tTest %d:\tShould leave the chain unchanged: height %d.", failed, testID, db.Height())
					}
					t.Logf("\t%s\tTest %d:\tShould leave the chain unchanged.", success, testID)

					after := db.BalanceSheet()
					if len(after) != len(before) {
						t.Fatalf("\t%s\tTest %d:\tShould leave the balance sheet unchanged.", failed, testID)
					}
					for id, out := range before {
						if after[id] != out {
							t.Fatalf("\t%s\tTest %d:\tShould leave the balance sheet unchanged.", failed, testID)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould leave the balance sheet unchanged.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_RewardLimit(t *testing.T) {
	t.Log("Given the need to cap the value a reward transaction can mint.")
	{
		g := genesis.Load()
		_, minerID := newAccount(t)

		db := database.New(g)
		gBlock := db.LatestBlock()

		rewardTx := database.NewRewardTx(g.ChainID, minerID, g.MiningReward+1, 1, gBlock.Header.TimeStamp+1)
		block := mineBlock(t, gBlock, minerID, gBlock.Header.TimeStamp+10, []database.BlockTx{rewardTx})

		if err := db.ApplyBlock(block); err == nil {
			t.Fatalf("\t%s\tShould reject a reward larger than the mining reward.", failed)
		}
		t.Logf("\t%s\tShould reject a reward larger than the mining reward.", success)

		// Splitting the mint across several reward transactions must not get
		// past the cap either.
		var trans []database.BlockTx
		for i := uint64(0); i < 3; i++ {
			trans = append(trans, database.NewRewardTx(g.ChainID, minerID, g.MiningReward, 1, gBlock.Header.TimeStamp+1+i))
		}
		multi := mineBlock(t, gBlock, minerID, gBlock.Header.TimeStamp+10, trans)

		if err := db.ApplyBlock(multi); err == nil {
			t.Fatalf("\t%s\tShould reject a block with more than one reward transaction.", failed)
		}
		t.Logf("\t%s\tShould reject a block with more than one reward transaction.", success)

		if bal := db.BalanceFor(minerID); bal != 0 {
			t.Fatalf("\t%s\tShould leave the miner with no balance: got %d.", failed, bal)
		}
		t.Logf("\t%s\tShould leave the miner with no balance.", success)
	}
}

func Test_SelectTransactions(t *testing.T) {
	t.Log("Given the need to split candidates into spendable and unspendable.")
	{
		g := genesis.Load()
		minerKey, minerID := newAccount(t)
		_, otherID := newAccount(t)

		db, rewardOutputID := rewardDB(t, g, minerID)
		t.Logf("\t%s\tShould be able to credit the miner through a reward block.", success)

		good := signedSpend(t, g, minerKey, rewardOutputID, []database.TxOutput{
			{OwnerID: otherID, Value: g.MiningReward},
		})
		unknown := signedSpend(t, g, minerKey, database.NewOutputID("0xdeadbeef", 0), []database.TxOutput{
			{OwnerID: otherID, Value: g.MiningReward},
		})
		doubleSpend := signedSpend(t, g, minerKey, rewardOutputID, []database.TxOutput{
			{OwnerID: minerID, Value: g.MiningReward},
		})
		reward := database.NewRewardTx(g.ChainID, minerID, g.MiningReward, 2, 99)

		spendable, unspendable := db.SelectTransactions([]database.BlockTx{unknown, good, doubleSpend, reward})

		if len(spendable) != 1 || spendable[0].ID() != good.ID() {
			t.Fatalf("\t%s\tShould keep only the committable transaction: got %d.", failed, len(spendable))
		}
		t.Logf("\t%s\tShould keep only the committable transaction.", success)

		// The unknown output, the second spend of the reward output and the
		// reward candidate all fall out.
		if len(unspendable) != 3 {
			t.Fatalf("\t%s\tShould report the other candidates as unspendable: got %d.", failed, len(unspendable))
		}
		t.Logf("\t%s\tShould report the other candidates as unspendable.", success)

		if _, exists := db.BalanceSheet()[rewardOutputID]; !exists {
			t.Fatalf("\t%s\tShould leave the balance sheet untouched by the trial.", failed)
		}
		t.Logf("\t%s\tShould leave the balance sheet untouched by the trial.", success)
	}
}

func Test_ParseOutputID(t *testing.T) {
	t.Log("Given the need to parse output ids back into their parts.")
	{
		id := database.NewOutputID("0xabc123", 7)
		txID, index, err := database.ParseOutputID(id)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to parse a constructed output id: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to parse a constructed output id.", success)

		if txID != "0xabc123" || index != 7 {
			t.Fatalf("\t%s\tShould get the original parts back: got %s %d.", failed, txID, index)
		}
		t.Logf("\t%s\tShould get the original parts back.", success)

		if _, _, err := database.ParseOutputID("no-separator"); err == nil {
			t.Fatalf("\t%s\tShould reject an output id without a separator.", failed)
		}
		t.Logf("\t%s\tShould reject an output id without a separator.", success)
	}
}
