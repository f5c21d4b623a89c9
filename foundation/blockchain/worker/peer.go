package worker

import (
	"errors"

	"github.com/kilnlabs/kiln/foundation/blockchain/peer"
	"github.com/kilnlabs/kiln/foundation/blockchain/state"
)

// peerOperations handles finding new peers and pulling heavier chains.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation queries every known peer for its status, adopts any new
// peers it reports and, when a peer claims a higher block number, pulls the
// peer's full chain through the replacement path.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: runPeersOperation: requestPeerStatus: %s: ERROR: %s", pr.Host, err)
			w.state.RemoveKnownPeer(pr)
			continue
		}

		w.addNewPeers(peerStatus.KnownPeers)

		// A higher block number is only a hint. Whether the peer's chain
		// actually wins is decided by the cumulative-work comparison inside
		// the replacement path.
		if peerStatus.LatestBlockNumber > w.state.RetrieveLatestBlock().Header.Number {
			w.evHandler("worker: runPeersOperation: %s: heavier chain hint: latestBlockNumber[%d]", pr.Host, peerStatus.LatestBlockNumber)
			w.requestPeerChain(pr)
		}
	}
}

// requestPeerChain pulls the peer's full chain and offers it to the state
// for replacement. A chain that is not heavier is a no-op, not an error.
func (w *Worker) requestPeerChain(pr peer.Peer) {
	blocks, err := w.state.NetRequestPeerChain(pr)
	if err != nil {
		w.evHandler("worker: requestPeerChain: %s: ERROR: %s", pr.Host, err)
		return
	}

	if err := w.state.ProcessProposedChain(blocks); err != nil {
		if errors.Is(err, state.ErrNotHeavier) {
			w.evHandler("worker: requestPeerChain: %s: candidate chain not heavier, keeping ours", pr.Host)
			return
		}
		w.evHandler("worker: requestPeerChain: %s: ERROR: %s", pr.Host, err)
	}
}

// addNewPeers takes a list of known peers and makes sure they are included
// in this node's list of known peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	w.evHandler("worker: addNewPeers: started")
	defer w.evHandler("worker: addNewPeers: completed")

	for _, pr := range knownPeers {

		// Don't add this running node to the known peer list.
		if pr.Match(w.state.RetrieveHost()) {
			continue
		}

		if w.state.AddKnownPeer(pr) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", pr)
		}
	}
}

// =============================================================================

// Sync updates the peer list and checks for a heavier chain on startup
// before any support G's run.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: sync: requestPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		w.addNewPeers(peerStatus.KnownPeers)

		// Retrieve the mempool from the peer so this node can mine the
		// same transactions.
		pool, err := w.state.NetRequestPeerMempool(pr)
		if err != nil {
			w.evHandler("worker: sync: requestPeerMempool: %s: ERROR: %s", pr.Host, err)
		}
		for _, tx := range pool {
			w.evHandler("worker: sync: requestPeerMempool: %s: add tx: %s", pr.Host, tx.ID()[:16])
			w.state.UpsertNodeTransaction(tx)
		}

		// If this peer claims a higher block number, pull its chain.
		if peerStatus.LatestBlockNumber > w.state.RetrieveLatestBlock().Header.Number {
			w.evHandler("worker: sync: %s: heavier chain hint: latestBlockNumber[%d]", pr.Host, peerStatus.LatestBlockNumber)
			w.requestPeerChain(pr)
		}
	}
}
