package peer

import (
	"time"

	"github.com/foxrelay/foxrelay/wire"
)

// runOutboundTransfer drives one outbound transfer end to end: emit
// FILE_START, walk segments in ascending order waiting (and retrying)
// for each FILE_ACK, then emit FILE_END and discard the state. This
// task never revisits a segment once it has moved past it — there is
// no sliding-window logic, matching the monotonic-progress invariant.
func (p *Peer) runOutboundTransfer(t *outboundTransfer) {
	defer func() {
		p.outMu.Lock()
		delete(p.outbound, t.fileID)
		p.outMu.Unlock()
	}()

	startPayload, err := wire.FileStartPayload(t.filename, t.totalSize)
	if err != nil {
		p.log.Errorf("cannot start transfer %d: %v", t.fileID, err)
		return
	}
	p.sendRaw(&wire.Packet{
		Type: wire.TypeFileStart, SenderID: p.cfg.ID, RecipientID: t.recipientID,
		FileID: t.fileID, Payload: startPayload,
	})

	for seq, data := range t.segments {
		p.sendChunkWithRetry(t, int32(seq), data)

		select {
		case <-p.HaltCh():
			return
		case <-time.After(p.cfg.PaceDelay):
		}
	}

	p.sendRaw(&wire.Packet{
		Type: wire.TypeFileEnd, SenderID: p.cfg.ID, RecipientID: t.recipientID,
		FileID: t.fileID, Payload: wire.FileEndPayload(int32(len(t.segments))),
	})

	if p.met != nil {
		p.met.BytesSent.Add(float64(t.totalSize))
	}
}

// sendChunkWithRetry emits one FILE_CHUNK and blocks until it is
// acknowledged — either by a genuine FILE_ACK or, after the retry
// budget (cfg.MaxRetries total attempts) is exhausted, by declaring it
// sent on best effort so the transfer can still progress.
func (p *Peer) sendChunkWithRetry(t *outboundTransfer, seq int32, data []byte) {
	chunk := &wire.Packet{
		Type: wire.TypeFileChunk, SenderID: p.cfg.ID, RecipientID: t.recipientID,
		Sequence: seq, FileID: t.fileID, Payload: data,
	}

	pc := t.beginWait(seq)
	p.sendRaw(chunk)
	p.scheduleAckTimeout(t.fileID, seq)

	select {
	case <-pc.doneCh:
	case <-p.HaltCh():
	}
}

func (p *Peer) scheduleAckTimeout(fileID, seq int32) {
	priority := uint64(time.Now().Add(p.cfg.AckWindow).UnixNano())
	p.ackTimerQueue.Push(priority, outboundKey{fileID: fileID, sequence: seq})
}

// onAckTimeout is the shared timer queue's fire callback: it is called
// once per scheduled ack-wait deadline as it elapses. A FILE_ACK does
// not remove the queued deadline; it resolves the chunk, and this
// callback then finds nothing pending and returns.
func (p *Peer) onAckTimeout(raw interface{}) {
	key, ok := raw.(outboundKey)
	if !ok {
		return
	}

	p.outMu.Lock()
	t, ok := p.outbound[key.fileID]
	p.outMu.Unlock()
	if !ok {
		// Transfer already finished and was discarded.
		return
	}

	tries, pending := t.stillPending(key.sequence)
	if !pending {
		// A FILE_ACK already resolved this chunk; nothing to do.
		return
	}

	if tries >= p.cfg.MaxRetries {
		p.log.Warnf("chunk %d of transfer %d exhausted retries, marking best-effort-sent", key.sequence, key.fileID)
		t.ack(key.sequence)
		return
	}

	p.log.Debugf("retransmitting chunk %d of transfer %d (attempt %d)", key.sequence, key.fileID, tries+1)
	chunk := &wire.Packet{
		Type: wire.TypeFileChunk, SenderID: p.cfg.ID, RecipientID: t.recipientID,
		Sequence: key.sequence, FileID: key.fileID, Payload: t.segments[key.sequence],
	}
	p.sendRaw(chunk)
	if p.met != nil {
		p.met.ChunksRetried.Inc()
	}
	p.scheduleAckTimeout(key.fileID, key.sequence)
}
