package peer

import (
	"path/filepath"
	"time"

	"github.com/foxrelay/foxrelay/peer/store"
	"github.com/foxrelay/foxrelay/wire"
)

// dispatchInbound routes one decoded frame to its handler, mirroring
// the broker's type switch but from the peer's perspective.
func (p *Peer) dispatchInbound(pkt *wire.Packet) {
	switch pkt.Type {
	case wire.TypeMSG:
		p.handleMessage(pkt)
	case wire.TypeFileStart:
		p.handleFileStart(pkt)
	case wire.TypeFileChunk:
		p.handleFileChunk(pkt)
	case wire.TypeFileEnd:
		p.handleFileEnd(pkt)
	case wire.TypeClientList:
		p.handleClientList(pkt)
	case wire.TypeAck:
		// Registration confirmation only; nothing to do.
	case wire.TypeFileAck:
		p.handleFileAck(pkt)
	default:
		p.log.Warnf("dropping frame of unknown type %d", pkt.Type)
	}
}

func (p *Peer) handleMessage(pkt *wire.Packet) {
	if p.met != nil {
		p.met.MessagesReceived.Inc()
	}
	if p.store != nil {
		p.store.Append(store.Record{At: time.Now(), Kind: "message", PeerID: pkt.SenderID, Outbound: false, Text: string(pkt.Payload)})
	}
	p.emit(Event{Message: &MessageEvent{SenderID: pkt.SenderID, Text: string(pkt.Payload)}})
}

func (p *Peer) handleFileStart(pkt *wire.Packet) {
	filename, size, err := wire.ParseFileStartPayload(pkt.Payload)
	if err != nil {
		p.log.Warnf("malformed FILE_START from %s: %v", pkt.SenderID, err)
		return
	}
	p.inTransfers.start(pkt.SenderID, pkt.FileID, filename, size)
	p.emit(Event{FileStart: &FileStartEvent{SenderID: pkt.SenderID, FileID: pkt.FileID, Filename: filename, Size: size}})
}

func (p *Peer) handleFileChunk(pkt *wire.Packet) {
	it, ok := p.inTransfers.get(pkt.SenderID, pkt.FileID)
	if !ok {
		p.log.Warnf("FILE_CHUNK for unknown transfer (%s, %d)", pkt.SenderID, pkt.FileID)
		return
	}
	it.addChunk(pkt.Sequence, pkt.Payload)
	p.emit(Event{FileProgress: &FileProgressEvent{
		SenderID:      pkt.SenderID,
		FileID:        pkt.FileID,
		BytesReceived: it.progress(),
		TotalSize:     it.declaredSize,
	}})
}

func (p *Peer) handleFileEnd(pkt *wire.Packet) {
	it, ok := p.inTransfers.get(pkt.SenderID, pkt.FileID)
	if !ok {
		p.log.Warnf("FILE_END for unknown transfer (%s, %d)", pkt.SenderID, pkt.FileID)
		return
	}
	defer p.inTransfers.discard(pkt.SenderID, pkt.FileID)

	totalChunks, err := wire.ParseFileEndPayload(pkt.Payload)
	if err != nil {
		p.log.Warnf("malformed FILE_END from %s: %v", pkt.SenderID, err)
		p.emit(Event{FileFailed: &FileFailedEvent{SenderID: pkt.SenderID, FileID: pkt.FileID, Reason: err.Error()}})
		return
	}

	data, err := it.reassemble(totalChunks)
	if err != nil {
		p.log.Warnf("reassembly failed for (%s, %d): %v", pkt.SenderID, pkt.FileID, err)
		p.emit(Event{FileFailed: &FileFailedEvent{SenderID: pkt.SenderID, FileID: pkt.FileID, Reason: err.Error()}})
		return
	}

	savedPath := filepath.Join(p.cfg.ReceivedFilesDir, it.filename)
	if err := writeFileOverwrite(savedPath, data); err != nil {
		p.log.Errorf("failed to save %s: %v", savedPath, err)
		p.emit(Event{FileFailed: &FileFailedEvent{SenderID: pkt.SenderID, FileID: pkt.FileID, Reason: err.Error()}})
		return
	}

	if p.met != nil {
		p.met.BytesReceived.Add(float64(len(data)))
	}
	if p.store != nil {
		p.store.Append(store.Record{
			At:        time.Now(),
			Kind:      "file",
			PeerID:    pkt.SenderID,
			Outbound:  false,
			Filename:  it.filename,
			SavedPath: savedPath,
			Size:      int64(len(data)),
		})
	}
	p.emit(Event{FileComplete: &FileCompleteEvent{SenderID: pkt.SenderID, FileID: pkt.FileID, SavedPath: savedPath}})
}

func (p *Peer) handleClientList(pkt *wire.Packet) {
	ids, err := wire.ParseClientListPayload(pkt.Payload)
	if err != nil {
		p.log.Warnf("malformed CLIENT_LIST: %v", err)
		return
	}

	p.onlineMu.Lock()
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == p.cfg.ID {
			continue
		}
		p.online[id] = struct{}{}
	}
	p.onlineMu.Unlock()

	p.emit(Event{PeerList: &PeerListEvent{IDs: p.ListPeers()}})
}

func (p *Peer) handleFileAck(pkt *wire.Packet) {
	p.outMu.Lock()
	transfer, ok := p.outbound[pkt.FileID]
	p.outMu.Unlock()
	if !ok {
		// Late ack for a transfer this peer already discarded; benign.
		return
	}
	transfer.ack(pkt.Sequence)
}
