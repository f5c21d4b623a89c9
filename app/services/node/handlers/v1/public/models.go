package public

import (
	"github.com/kilnlabs/kiln/foundation/blockchain/database"
)

// balance represents the spendable value an account holds.
type balance struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
}

// balances is the full response for the balances endpoint.
type balances struct {
	LatestBlock string    `json:"latest_block"`
	Uncommitted int       `json:"uncommitted"`
	Balances    []balance `json:"balances"`
}

// output represents a single spendable output for building transactions.
type output struct {
	OutputID database.OutputID  `json:"output_id"`
	Owner    database.AccountID `json:"owner"`
	Value    uint64             `json:"value"`
}

// tx is the view of a transaction inside a block or the mempool.
type tx struct {
	ID        string              `json:"id"`
	From      database.AccountID  `json:"from"`
	FromName  string              `json:"from_name"`
	Inputs    []database.TxInput  `json:"inputs"`
	Outputs   []database.TxOutput `json:"outputs"`
	TimeStamp uint64              `json:"timestamp"`
	Reward    bool                `json:"reward"`
	Sig       string              `json:"sig,omitempty"`
}

// block is the view of a block in the chain.
type block struct {
	Hash          string             `json:"hash"`
	Number        uint64             `json:"number"`
	PrevBlockHash string             `json:"prev_block_hash"`
	TimeStamp     uint64             `json:"timestamp"`
	Beneficiary   database.AccountID `json:"beneficiary"`
	Difficulty    uint64             `json:"difficulty"`
	Nonce         uint64             `json:"nonce"`
	TransRoot     string             `json:"trans_root"`
	Trans         []tx               `json:"trans"`
}
