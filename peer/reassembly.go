package peer

import (
	"fmt"
	"sync"
)

// transferKey globally identifies a transfer: (sender-id, file-id).
type transferKey struct {
	senderID string
	fileID   int32
}

// inboundTransfer is the receiver-side reception state for one
// in-flight incoming transfer.
type inboundTransfer struct {
	mu sync.Mutex

	senderID      string
	fileID        int32
	filename      string
	declaredSize  int64
	chunks        map[int32][]byte
	bytesReceived int64
}

func newInboundTransfer(senderID string, fileID int32, filename string, size int64) *inboundTransfer {
	return &inboundTransfer{
		senderID:     senderID,
		fileID:       fileID,
		filename:     filename,
		declaredSize: size,
		chunks:       make(map[int32][]byte),
	}
}

// addChunk stores seq's bytes on first arrival only; duplicates are
// dropped, making chunk acceptance idempotent. It reports whether this
// call stored a new chunk.
func (it *inboundTransfer) addChunk(seq int32, payload []byte) bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if _, ok := it.chunks[seq]; ok {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	it.chunks[seq] = cp
	it.bytesReceived += int64(len(cp))
	return true
}

func (it *inboundTransfer) progress() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.bytesReceived
}

// reassemble concatenates chunks 0..totalChunks-1 in order. It fails
// atomically (returning an error, no partial result) if any index in
// that range is missing.
func (it *inboundTransfer) reassemble(totalChunks int32) ([]byte, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if totalChunks == 0 {
		return []byte{}, nil
	}

	var missing []int32
	total := 0
	for i := int32(0); i < totalChunks; i++ {
		c, ok := it.chunks[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		total += len(c)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing sequence numbers %v", ErrMissingChunks, missing)
	}

	out := make([]byte, 0, total)
	for i := int32(0); i < totalChunks; i++ {
		out = append(out, it.chunks[i]...)
	}
	return out, nil
}

// inboundTransfers tracks reception state across concurrently arriving
// transfers, keyed by (sender-id, file-id) so unrelated senders never
// interfere with each other's reassembly.
type inboundTransfers struct {
	mu    sync.Mutex
	byKey map[transferKey]*inboundTransfer
}

func newInboundTransfers() *inboundTransfers {
	return &inboundTransfers{byKey: make(map[transferKey]*inboundTransfer)}
}

func (t *inboundTransfers) start(senderID string, fileID int32, filename string, size int64) *inboundTransfer {
	t.mu.Lock()
	defer t.mu.Unlock()

	it := newInboundTransfer(senderID, fileID, filename, size)
	t.byKey[transferKey{senderID, fileID}] = it
	return it
}

func (t *inboundTransfers) get(senderID string, fileID int32) (*inboundTransfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.byKey[transferKey{senderID, fileID}]
	return it, ok
}

func (t *inboundTransfers) discard(senderID string, fileID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, transferKey{senderID, fileID})
}
