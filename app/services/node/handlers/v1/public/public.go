// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	v1 "github.com/kilnlabs/kiln/business/web/v1"
	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/state"
	"github.com/kilnlabs/kiln/foundation/events"
	"github.com/kilnlabs/kiln/foundation/nameservice"
	"github.com/kilnlabs/kiln/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// SubmitWalletTransaction adds a new user transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "sig", signedTx.SignatureString())
	if err := h.State.UpsertWalletTransaction(signedTx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SignalMining signals the start of a mining operation.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.Worker.SignalStartMining()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signaled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mempool := h.State.RetrieveMempool()

	trans := make([]tx, len(mempool))
	for i, tran := range mempool {
		trans[i] = toTxView(tran, h.NS)
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Balances returns the spendable value per account, for all accounts or
// for the account specified on the route.
func (h Handlers) Balances(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	totals := make(map[database.AccountID]uint64)
	for _, out := range h.State.RetrieveBalanceSheet() {
		totals[out.OwnerID] += out.Value
	}

	bals := make([]balance, 0, len(totals))
	for accountID, total := range totals {
		if acct != "" && acct != string(accountID) {
			continue
		}
		bals = append(bals, balance{
			Account: accountID,
			Name:    h.NS.Lookup(accountID),
			Balance: total,
		})
	}

	sort.Slice(bals, func(i, j int) bool { return bals[i].Account < bals[j].Account })

	resp := balances{
		LatestBlock: h.State.RetrieveLatestBlock().Hash(),
		Uncommitted: len(h.State.RetrieveMempool()),
		Balances:    bals,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Outputs returns the individual spendable outputs owned by the specified
// account so a wallet can construct transactions.
func (h Handlers) Outputs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	sheet := h.State.QueryOutputsByAccount(accountID)

	outs := make([]output, 0, len(sheet))
	for outputID, out := range sheet {
		outs = append(outs, output{
			OutputID: outputID,
			Owner:    out.OwnerID,
			Value:    out.Value,
		})
	}

	sort.Slice(outs, func(i, j int) bool { return outs[i].OutputID < outs[j].OutputID })

	return web.Respond(ctx, w, outs, http.StatusOK)
}

// Blocks returns the blocks in the chain, optionally filtered to those that
// involve the specified account.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	var blocks []block
	for _, blk := range h.State.RetrieveChain() {
		if acct != "" && !involvesAccount(blk, database.AccountID(acct), h.NS) {
			continue
		}

		trans := make([]tx, len(blk.Trans))
		for i, tran := range blk.Trans {
			trans[i] = toTxView(tran, h.NS)
		}

		blocks = append(blocks, block{
			Hash:          blk.Hash(),
			Number:        blk.Header.Number,
			PrevBlockHash: blk.Header.PrevBlockHash,
			TimeStamp:     blk.Header.TimeStamp,
			Beneficiary:   blk.Header.BeneficiaryID,
			Difficulty:    blk.Header.Difficulty,
			Nonce:         blk.Header.Nonce,
			TransRoot:     blk.Header.TransRoot,
			Trans:         trans,
		})
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// =============================================================================

// toTxView converts a block transaction to its response form.
func toTxView(tran database.BlockTx, ns *nameservice.NameService) tx {
	view := tx{
		ID:        tran.ID(),
		Inputs:    tran.Inputs,
		Outputs:   tran.Outputs,
		TimeStamp: tran.TimeStamp,
		Reward:    tran.IsReward(),
	}

	if !tran.IsReward() {
		if from, err := tran.FromAccount(); err == nil {
			view.From = from
			view.FromName = ns.Lookup(from)
		}
		view.Sig = tran.SignatureString()
	}

	return view
}

// involvesAccount reports whether the account mined the block, signed one of
// its transactions or owns one of its outputs.
func involvesAccount(blk database.Block, accountID database.AccountID, ns *nameservice.NameService) bool {
	if blk.Header.BeneficiaryID == accountID {
		return true
	}

	for _, tran := range blk.Trans {
		if from, err := tran.FromAccount(); err == nil && from == accountID {
			return true
		}
		for _, out := range tran.Outputs {
			if out.OwnerID == accountID {
				return true
			}
		}
	}

	return false
}
