package database

import (
	"fmt"
	"strconv"
	"strings"
)

// OutputID uniquely identifies a spendable output as "txID:index".
type OutputID string

// NewOutputID constructs an output id from a transaction id and the index of
// the output inside that transaction.
func NewOutputID(txID string, index uint64) OutputID {
	return OutputID(fmt.Sprintf("%s:%d", txID, index))
}

// ParseOutputID splits an output id back into the transaction id and output
// index it was constructed from.
func ParseOutputID(id OutputID) (string, uint64, error) {
	i := strings.LastIndex(string(id), ":")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid output id %q", id)
	}

	index, err := strconv.ParseUint(string(id)[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid output id %q: %w", id, err)
	}

	return string(id)[:i], index, nil
}

// =============================================================================

// BalanceSheet is the snapshot of spendable outputs derived from folding every
// block's transactions in chain order. It is fully recomputable from the chain
// and is never the source of truth on its own.
type BalanceSheet struct {
	sheet map[OutputID]TxOutput
}

// newBalanceSheet constructs an empty balance sheet. Value only enters the
// sheet through mining rewards.
func newBalanceSheet() BalanceSheet {
	return BalanceSheet{
		sheet: make(map[OutputID]TxOutput),
	}
}

// clone makes an independent copy of the balance sheet so a block can be
// applied all-or-nothing.
func (bs BalanceSheet) clone() BalanceSheet {
	sheet := make(map[OutputID]TxOutput, len(bs.sheet))
	for id, out := range bs.sheet {
		sheet[id] = out
	}

	return BalanceSheet{sheet: sheet}
}

// applyBlock folds the block's transactions into a copy of the balance sheet.
// If any transaction fails, the receiving sheet is left untouched and an error
// is returned.
func (bs BalanceSheet) applyBlock(chainID uint16, miningReward uint64, block Block) (BalanceSheet, error) {
	next := bs.clone()

	// New value enters the sheet through one reward transaction per block.
	var rewards int
	for _, tx := range block.Trans {
		if tx.IsReward() {
			rewards++
			if rewards > 1 {
				return BalanceSheet{}, fmt.Errorf("tx[%s]: block carries more than one reward transaction", tx.ID())
			}
		}

		if err := next.applyTransaction(chainID, miningReward, tx); err != nil {
			return BalanceSheet{}, fmt.Errorf("tx[%s]: %w", tx.ID(), err)
		}
	}

	return next, nil
}

// applyTransaction performs the business logic for applying a transaction to
// the balance sheet. The receiver is always a private clone, so mutation here
// never leaks on failure.
func (bs BalanceSheet) applyTransaction(chainID uint16, miningReward uint64, tx BlockTx) error {

	// A reward transaction creates new value and consumes nothing. Beyond
	// the one-per-block rule, it cannot mint more than the agreed reward.
	if tx.IsReward() {
		var total uint64
		for _, out := range tx.Outputs {
			total += out.Value
		}
		if total > miningReward {
			return fmt.Errorf("reward exceeds the mining reward, got %d, exp %d", total, miningReward)
		}

		bs.addOutputs(tx)
		return nil
	}

	if err := tx.Validate(chainID); err != nil {
		return err
	}

	// Capture the account that signed the transaction. Every output being
	// spent must belong to that account.
	from, err := tx.FromAccount()
	if err != nil {
		return fmt.Errorf("invalid signature, %s", err)
	}

	var totalIn uint64
	for _, in := range tx.Inputs {
		outputID := NewOutputID(in.TxID, in.OutIndex)

		out, exists := bs.sheet[outputID]
		if !exists {
			return fmt.Errorf("output %s does not exist or is already spent", outputID)
		}

		if out.OwnerID != from {
			return fmt.Errorf("output %s is not owned by %s", outputID, from)
		}

		// Deleting as we go makes a double reference inside the same
		// transaction fail on the second lookup.
		delete(bs.sheet, outputID)
		totalIn += out.Value
	}

	var totalOut uint64
	for _, out := range tx.Outputs {
		totalOut += out.Value
	}

	if totalIn != totalOut {
		return fmt.Errorf("inputs and outputs don't balance, in %d, out %d", totalIn, totalOut)
	}

	bs.addOutputs(tx)
	return nil
}

// addOutputs records the transaction's outputs as spendable.
func (bs BalanceSheet) addOutputs(tx BlockTx) {
	txID := tx.ID()
	for i, out := range tx.Outputs {
		bs.sheet[NewOutputID(txID, uint64(i))] = out
	}
}

// Values returns a copy of the current set of spendable outputs.
func (bs BalanceSheet) Values() map[OutputID]TxOutput {
	sheet := make(map[OutputID]TxOutput, len(bs.sheet))
	for id, out := range bs.sheet {
		sheet[id] = out
	}

	return sheet
}

// OutputsFor returns the spendable outputs owned by the specified account.
func (bs BalanceSheet) OutputsFor(accountID AccountID) map[OutputID]TxOutput {
	outputs := make(map[OutputID]TxOutput)
	for id, out := range bs.sheet {
		if out.OwnerID == accountID {
			outputs[id] = out
		}
	}

	return outputs
}

// BalanceFor sums the value of the spendable outputs owned by the specified
// account.
func (bs BalanceSheet) BalanceFor(accountID AccountID) uint64 {
	var balance uint64
	for _, out := range bs.sheet {
		if out.OwnerID == accountID {
			balance += out.Value
		}
	}

	return balance
}
