package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DevSubmitter is an in-process chain stand-in for development and tests.
// Handles are deterministic over (chain, root), so resubmitting a root
// yields the same tx handle and cannot double-anchor.
type DevSubmitter struct {
	mu        sync.Mutex
	submitted map[string]int64 // handle → block number
	nextBlock int64
}

var _ Submitter = (*DevSubmitter)(nil)

// NewDevSubmitter creates an empty dev chain.
func NewDevSubmitter() *DevSubmitter {
	return &DevSubmitter{submitted: make(map[string]int64), nextBlock: 1}
}

// SubmitRoot records the root and returns its deterministic handle.
func (d *DevSubmitter) SubmitRoot(ctx context.Context, chain, rootHash string) (string, error) {
	handle := devHandle(chain, rootHash)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.submitted[handle]; !ok {
		d.submitted[handle] = d.nextBlock
		d.nextBlock++
	}
	return handle, nil
}

// GetConfirmation reports a submitted root as immediately confirmed.
func (d *DevSubmitter) GetConfirmation(ctx context.Context, chain, txHandle string) (Confirmation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	block, ok := d.submitted[txHandle]
	if !ok {
		return Confirmation{}, nil
	}
	return Confirmation{Confirmed: true, TxHash: txHandle, BlockNumber: block}, nil
}

func devHandle(chain, rootHash string) string {
	sum := sha256.Sum256([]byte(chain + ":" + rootHash))
	return "0x" + hex.EncodeToString(sum[:])
}
