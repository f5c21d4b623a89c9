package worker

import (
	"github.com/kilnlabs/kiln/foundation/blockchain/database"
)

// shareBlockOperations handles broadcasting new latest blocks to the known
// peers.
func (w *Worker) shareBlockOperations() {
	w.evHandler("worker: shareBlockOperations: G started")
	defer w.evHandler("worker: shareBlockOperations: G completed")

	for {
		select {
		case block := <-w.blockSharing:
			if !w.isShutdown() {
				w.runShareBlockOperation(block)
			}
		case <-w.shut:
			w.evHandler("worker: shareBlockOperations: received shut signal")
			return
		}
	}
}

// runShareBlockOperation broadcasts a block to the known peers.
func (w *Worker) runShareBlockOperation(block database.Block) {
	w.evHandler("worker: runShareBlockOperation: started: blk[%s]", block.Hash())
	defer w.evHandler("worker: runShareBlockOperation: completed")

	w.state.NetSendBlockToPeers(block)
}
