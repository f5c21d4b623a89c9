package database

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/kilnlabs/kiln/foundation/blockchain/signature"
)

// TxInput references a spendable output from an earlier transaction. For a
// reward transaction the TxID is empty and the OutIndex carries the block
// number so the transaction id stays unique per block.
type TxInput struct {
	TxID     string `json:"tx_id"`
	OutIndex uint64 `json:"out_index"`
}

// TxOutput represents new value made spendable by the owning account.
type TxOutput struct {
	OwnerID AccountID `json:"owner_id"`
	Value   uint64    `json:"value"`
}

// Tx is the transactional information between two parties.
type Tx struct {
	ChainID uint16     `json:"chain_id"` // The chain id that is listed in the genesis information.
	Inputs  []TxInput  `json:"inputs"`   // Outputs being consumed by this transaction.
	Outputs []TxOutput `json:"outputs"`  // New outputs being produced by this transaction.
}

// NewTx constructs a new transaction.
func NewTx(chainID uint16, inputs []TxInput, outputs []TxOutput) (Tx, error) {
	if len(inputs) == 0 {
		return Tx{}, errors.New("transaction must consume at least one output")
	}

	for _, out := range outputs {
		if !out.OwnerID.IsAccountID() {
			return Tx{}, fmt.Errorf("invalid owner account: %s", out.OwnerID)
		}
	}

	return Tx{
		ChainID: chainID,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction used internally by the
// blockchain and gossiped between nodes.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier, either 43 or 44 with kilnID.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction has a proper signature that conforms to
// our standards and is associated with this chain.
func (tx SignedTx) Validate(chainID uint16) error {
	if tx.ChainID != chainID {
		return fmt.Errorf("invalid chain id, got[%d] exp[%d]", tx.ChainID, chainID)
	}

	if len(tx.Inputs) == 0 {
		return errors.New("transaction must consume at least one output")
	}

	for _, out := range tx.Outputs {
		if !out.OwnerID.IsAccountID() {
			return fmt.Errorf("invalid owner account: %s", out.OwnerID)
		}
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	return AccountID(address), err
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the Stringer interface for logging.
func (tx SignedTx) String() string {
	from, err := tx.FromAccount()
	if err != nil {
		from = "unknown"
	}

	return fmt.Sprintf("%s:%d->%d", from, len(tx.Inputs), len(tx.Outputs))
}

// =============================================================================

// BlockTx represents the transaction as it is recorded inside a block.
type BlockTx struct {
	SignedTx
	TimeStamp uint64 `json:"timestamp"` // The time the transaction was received.
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx, timeStamp uint64) BlockTx {
	return BlockTx{
		SignedTx:  signedTx,
		TimeStamp: timeStamp,
	}
}

// NewRewardTx constructs the reward transaction that pays the beneficiary of
// a block. The block number rides in the input's OutIndex so the id of every
// reward transaction is unique even though they carry no signature.
func NewRewardTx(chainID uint16, beneficiaryID AccountID, reward uint64, blockNumber uint64, timeStamp uint64) BlockTx {
	return BlockTx{
		SignedTx: SignedTx{
			Tx: Tx{
				ChainID: chainID,
				Inputs:  []TxInput{{TxID: "", OutIndex: blockNumber}},
				Outputs: []TxOutput{{OwnerID: beneficiaryID, Value: reward}},
			},
		},
		TimeStamp: timeStamp,
	}
}

// IsReward reports whether this transaction is a block reward. Reward
// transactions carry no signature.
func (tx BlockTx) IsReward() bool {
	return tx.V == nil && tx.R == nil && tx.S == nil
}

// ID returns the unique identifier for the transaction.
func (tx BlockTx) ID() string {
	return signature.Hash(tx)
}
