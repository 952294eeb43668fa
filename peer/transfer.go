package peer

import (
	"sync"
)

// outboundKey identifies one in-flight chunk awaiting acknowledgement,
// the unit the shared timer queue schedules retransmission for.
type outboundKey struct {
	fileID   int32
	sequence int32
}

// pendingChunk is the per-chunk ack-wait state: resolved exactly once,
// either by a FILE_ACK arriving or by the retry budget running out.
type pendingChunk struct {
	once   sync.Once
	doneCh chan struct{}
	tries  int
}

func newPendingChunk() *pendingChunk {
	return &pendingChunk{doneCh: make(chan struct{})}
}

func (p *pendingChunk) resolve() {
	p.once.Do(func() { close(p.doneCh) })
}

// outboundTransfer is the sender-side state for one active outbound
// transfer: prepared once, then walked segment by segment.
type outboundTransfer struct {
	fileID      int32
	filename    string
	totalSize   int64
	recipientID string
	segments    [][]byte

	mu           sync.Mutex
	acknowledged map[int32]bool
	pending      map[int32]*pendingChunk
}

func newOutboundTransfer(fileID int32, filename string, totalSize int64, recipientID string, segments [][]byte) *outboundTransfer {
	return &outboundTransfer{
		fileID:       fileID,
		filename:     filename,
		totalSize:    totalSize,
		recipientID:  recipientID,
		segments:     segments,
		acknowledged: make(map[int32]bool),
		pending:      make(map[int32]*pendingChunk),
	}
}

// segmentData splits data into chunkSize slices, per the preparation
// step of §4.3: a single streaming pass producing segments[].
func segmentData(data []byte, chunkSize int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	n := (len(data) + chunkSize - 1) / chunkSize
	segs := make([][]byte, 0, n)
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		segs = append(segs, data[i:end])
	}
	return segs
}

// beginWait registers seq as awaiting acknowledgement and returns its
// pendingChunk, creating it if this is the first attempt.
func (t *outboundTransfer) beginWait(seq int32) *pendingChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.pending[seq]
	if !ok {
		pc = newPendingChunk()
		t.pending[seq] = pc
	}
	return pc
}

// ack marks seq acknowledged (by a real FILE_ACK or by best-effort
// retry exhaustion) and resolves anyone waiting on it.
func (t *outboundTransfer) ack(seq int32) {
	t.mu.Lock()
	t.acknowledged[seq] = true
	pc, ok := t.pending[seq]
	delete(t.pending, seq)
	t.mu.Unlock()

	if ok {
		pc.resolve()
	}
}

// stillPending reports whether seq is still awaiting resolution, and
// if so bumps and returns its attempt count. Used by the timer queue's
// fire callback: if the entry is gone, a FILE_ACK already won the
// race and there is nothing to retransmit.
func (t *outboundTransfer) stillPending(seq int32) (tries int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.pending[seq]
	if !ok {
		return 0, false
	}
	pc.tries++
	return pc.tries, true
}
