package database

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
	"github.com/kilnlabs/kiln/foundation/blockchain/signature"
)

// ErrChainForked is returned from ValidateBlock when a proposed block is two
// or more blocks ahead of our latest block. The caller should switch to the
// chain replacement flow instead of rejecting outright.
var ErrChainForked = errors.New("blockchain forked, request peer chain")

// timestampDriftSeconds is the tolerated clock drift when validating a
// block's timestamp against its parent and against the local clock.
const timestampDriftSeconds = 60

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64    `json:"number"`          // Block number in the chain.
	PrevBlockHash string    `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp     uint64    `json:"timestamp"`       // Time the block was mined, in unix seconds.
	BeneficiaryID AccountID `json:"beneficiary"`     // The account receiving the mining reward.
	Difficulty    uint64    `json:"difficulty"`      // Number of leading zero bits required of the hash.
	Nonce         uint64    `json:"nonce"`           // Value identified to solve the hash solution.
	TransRoot     string    `json:"trans_root"`      // Commitment to the ordered set of transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  []BlockTx
}

// GenesisBlock returns the hard-coded block that seeds every chain. It is
// identical on every node built from the same source and is never replaced.
func GenesisBlock(g genesis.Genesis) Block {
	return Block{
		Header: BlockHeader{
			Number:        0,
			PrevBlockHash: signature.ZeroHash,
			TimeStamp:     uint64(g.Date.Unix()),
			Difficulty:    0,
			Nonce:         0,
			TransRoot:     TransRoot(nil),
		},
	}
}

// TransRoot produces the commitment for an ordered set of transactions.
func TransRoot(trans []BlockTx) string {
	if len(trans) == 0 {
		return signature.ZeroHash
	}

	return signature.Hash(trans)
}

// Hash returns the unique hash for the block, computed over the header only.
// The header commits to the transactions through the TransRoot field. The
// genesis block has the sentinel zero hash by definition.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	return signature.Hash(b.Header)
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	BeneficiaryID AccountID
	Difficulty    uint64
	PrevBlock     Block
	TimeStamp     uint64
	Trans         []BlockTx
	EvHandler     func(v string, args ...any)
}

// POW constructs a new block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	nb := Block{
		Header: BlockHeader{
			Number:        args.PrevBlock.Header.Number + 1,
			PrevBlockHash: args.PrevBlock.Hash(),
			TimeStamp:     args.TimeStamp,
			BeneficiaryID: args.BeneficiaryID,
			Difficulty:    args.Difficulty,
			Nonce:         0, // Will be identified by the POW algorithm.
			TransRoot:     TransRoot(args.Trans),
		},
		Trans: args.Trans,
	}

	if err := nb.performPOW(ctx, args.EvHandler); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for the block.
// Pointer semantics are being used since a nonce is being discovered. The
// search starts at nonce zero and increments until the hash has the required
// number of leading zero bits. The expected iteration count doubles with each
// unit of difficulty, so the only way out of a long search is the context.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started: difficulty[%d]", b.Header.Difficulty)
	defer ev("database: PerformPOW: MINING: completed")

	for _, tx := range b.Trans {
		ev("database: PerformPOW: MINING: tx[%s]", tx.ID())
	}

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did the caller cancel the mining operation.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// isHashSolved checks the hash complies with the POW rules. The difficulty
// counts required leading zero bits of the raw digest, not hex characters.
func isHashSolved(difficulty uint64, hash string) bool {
	raw, err := hex.DecodeString(strings.TrimPrefix(hash, "0x"))
	if err != nil || len(raw) != 32 {
		return false
	}

	var zeros uint64
	for _, b := range raw {
		if b == 0 {
			zeros += 8
			continue
		}
		zeros += uint64(bits.LeadingZeros8(b))
		break
	}

	return zeros >= difficulty
}

// =============================================================================

// ValidateBlock takes a block and validates it to be included in the chain
// after the specified previous block. The now parameter is the local clock in
// unix seconds and bounds how far in the future a timestamp may sit.
func (b Block) ValidateBlock(previousBlock Block, now uint64, evHandler func(v string, args ...any)) error {
	evHandler("database: ValidateBlock: validate: blk[%d]: check: chain is not forked", b.Header.Number)

	// The node who sent this block has a chain that is two or more blocks
	// ahead of ours. There has been a fork and the full chain needs to be
	// compared, not this single block.
	nextNumber := previousBlock.Header.Number + 1
	if b.Header.Number > nextNumber {
		return ErrChainForked
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block number is the next number", b.Header.Number)

	if b.Header.Number != nextNumber {
		return fmt.Errorf("this block is not the next number, got %d, exp %d", b.Header.Number, nextNumber)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: parent hash matches parent block", b.Header.Number)

	if b.Header.PrevBlockHash != previousBlock.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, previousBlock.Hash())
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block hash has been solved", b.Header.Number)

	hash := b.Hash()
	if !isHashSolved(b.Header.Difficulty, hash) {
		return fmt.Errorf("%s invalid block hash for difficulty %d", hash, b.Header.Difficulty)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block timestamp is within the tolerated window", b.Header.Number)

	if b.Header.TimeStamp+timestampDriftSeconds <= previousBlock.Header.TimeStamp {
		return fmt.Errorf("block timestamp is too far before parent block, parent %d, block %d", previousBlock.Header.TimeStamp, b.Header.TimeStamp)
	}

	if now != 0 && b.Header.TimeStamp >= now+timestampDriftSeconds {
		return fmt.Errorf("block timestamp is too far in the future, now %d, block %d", now, b.Header.TimeStamp)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: trans root matches transactions", b.Header.Number)

	if b.Header.TransRoot != TransRoot(b.Trans) {
		return fmt.Errorf("trans root does not match transactions, got %s, exp %s", TransRoot(b.Trans), b.Header.TransRoot)
	}

	return nil
}

// ValidateChain performs a full structural validation of the candidate chain
// from genesis forward. The genesis block must match the hard-coded constant
// and every subsequent block must link, solve and sit inside the timestamp
// window relative to its parent.
func ValidateChain(blocks []Block, g genesis.Genesis, now uint64, evHandler func(v string, args ...any)) error {
	if len(blocks) == 0 {
		return errors.New("chain is empty")
	}

	gBlock := GenesisBlock(g)
	if blocks[0].Header != gBlock.Header || len(blocks[0].Trans) != 0 {
		return errors.New("genesis block does not match the hard-coded genesis")
	}

	for i := 1; i < len(blocks); i++ {
		if err := blocks[i].ValidateBlock(blocks[i-1], now, evHandler); err != nil {
			return fmt.Errorf("blk[%d]: %w", blocks[i].Header.Number, err)
		}
	}

	return nil
}

// =============================================================================

// BlockData represents what is serialized over the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans,
	}
}

// ToBlock converts a BlockData into a Block and checks the embedded hash is
// exactly the recomputed digest of the block contents.
func ToBlock(blockData BlockData) (Block, error) {
	nb := Block{
		Header: blockData.Header,
		Trans:  blockData.Trans,
	}

	if blockData.Hash != nb.Hash() {
		return Block{}, fmt.Errorf("stored hash does not match the block, got %s, exp %s", blockData.Hash, nb.Hash())
	}

	return nb, nil
}
