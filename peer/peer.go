// Package peer implements the endpoint side of the fabric: it
// registers with a broker, emits heartbeats, demultiplexes inbound
// frames, and runs outbound file-transfer tasks and inbound
// reassembly, all driven through the minimal shell interface in
// events.go.
package peer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/foxrelay/foxrelay/internal/metrics"
	"github.com/foxrelay/foxrelay/internal/timerqueue"
	"github.com/foxrelay/foxrelay/internal/worker"
	"github.com/foxrelay/foxrelay/peer/store"
	"github.com/foxrelay/foxrelay/wire"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultAckWindow         = 50 * time.Millisecond
	defaultMaxRetries        = 5
	defaultPaceDelay         = 10 * time.Millisecond
)

// Config configures a Peer.
type Config struct {
	ID                string // must be non-empty
	BrokerAddr        string // e.g. "127.0.0.1:9876"
	HeartbeatInterval time.Duration
	AckWindow         time.Duration
	MaxRetries        int
	PaceDelay         time.Duration
	ReceivedFilesDir  string
	Log               *log.Logger
	Metrics           *metrics.Peer

	// StorePath, when non-empty, enables a local encrypted transcript
	// log of sent/received messages and completed transfers (see
	// package peer/store). This is purely a client-side convenience
	// cache; it never feeds back into protocol state.
	StorePath         string
	StorePassphrase   []byte
}

// Peer is the datagram endpoint driving registration, heartbeats,
// message/file relay, and reassembly for one logical identity.
type Peer struct {
	worker.Worker

	cfg   Config
	log   *log.Logger
	conn  *net.UDPConn
	store *store.Store

	sink EventSink

	onlineMu sync.RWMutex
	online   map[string]struct{}

	outMu         sync.Mutex
	outbound      map[int32]*outboundTransfer
	nextFileID    int32 // monotonically increasing; see SendFile
	inTransfers   *inboundTransfers
	ackTimerQueue *timerqueue.TimerQueue

	met *metrics.Peer
}

// New constructs a Peer without binding a socket.
func New(cfg Config, sink EventSink) *Peer {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.AckWindow <= 0 {
		cfg.AckWindow = defaultAckWindow
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PaceDelay <= 0 {
		cfg.PaceDelay = defaultPaceDelay
	}
	if cfg.ReceivedFilesDir == "" {
		cfg.ReceivedFilesDir = "received_files"
	}
	l := cfg.Log
	if l == nil {
		l = log.Default()
	}
	p := &Peer{
		cfg:         cfg,
		log:         l.WithPrefix("peer." + cfg.ID),
		sink:        sink,
		online:      make(map[string]struct{}),
		outbound:    make(map[int32]*outboundTransfer),
		nextFileID:  0,
		inTransfers: newInboundTransfers(),
		met:         cfg.Metrics,
	}
	p.ackTimerQueue = timerqueue.New(p.onAckTimeout)
	return p
}

// Start binds an ephemeral UDP socket, sends the initial REGISTER, and
// launches the heartbeat emitter, receive loop, and ack timer queue.
func (p *Peer) Start() error {
	brokerAddr, err := net.ResolveUDPAddr("udp", p.cfg.BrokerAddr)
	if err != nil {
		return fmt.Errorf("peer: resolve broker addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, brokerAddr)
	if err != nil {
		return fmt.Errorf("peer: bind: %w", err)
	}
	p.conn = conn
	p.log.Infof("bound %s, broker %s", conn.LocalAddr(), brokerAddr)

	if err := os.MkdirAll(p.cfg.ReceivedFilesDir, 0o755); err != nil {
		return fmt.Errorf("peer: create received files dir: %w", err)
	}

	if p.cfg.StorePath != "" {
		s, err := store.Open(p.cfg.StorePath, p.cfg.StorePassphrase)
		if err != nil {
			conn.Close()
			return fmt.Errorf("peer: open transcript store: %w", err)
		}
		p.store = s
	}

	p.ackTimerQueue.Start()
	p.Go(p.receiveLoop)
	p.Go(p.heartbeatLoop)

	p.sendRaw(&wire.Packet{Type: wire.TypeRegister, SenderID: p.cfg.ID})
	return nil
}

// Stop halts every worker and the ack timer queue, then closes the
// socket.
func (p *Peer) Stop() {
	p.Halt()
	p.ackTimerQueue.Halt()
	if p.conn != nil {
		p.conn.Close()
	}
	p.Wait()
	p.ackTimerQueue.Wait()
	p.conn = nil // shell-facing operations now report ErrNotConnected
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.log.Warnf("failed to close transcript store: %v", err)
		}
	}
}

// LocalAddr returns the bound ephemeral address. Only valid after Start.
func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.HaltCh():
			return
		case <-ticker.C:
			p.sendRaw(&wire.Packet{Type: wire.TypeHeartbeat, SenderID: p.cfg.ID})
		}
	}
}

func (p *Peer) receiveLoop() {
	buf := make([]byte, wire.MaxFrameSize)
	for {
		select {
		case <-p.HaltCh():
			return
		default:
		}

		n, err := p.conn.Read(buf)
		if err != nil {
			select {
			case <-p.HaltCh():
				return
			default:
			}
			p.log.Warnf("receive error: %v", err)
			continue
		}

		pkt := &wire.Packet{}
		if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
			p.log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		p.dispatchInbound(pkt)
	}
}

func (p *Peer) sendRaw(pkt *wire.Packet) {
	data, err := pkt.MarshalBinary()
	if err != nil {
		p.log.Errorf("failed to encode outgoing %s: %v", pkt.Type, err)
		return
	}
	if _, err := p.conn.Write(data); err != nil {
		p.log.Warnf("send error: %v", err)
	}
}

func (p *Peer) emit(e Event) {
	if p.sink != nil {
		p.sink.OnEvent(e)
	}
}

// ---- shell-facing operations ----

// SendMessage enqueues a broadcast MSG frame.
func (p *Peer) SendMessage(text string) error {
	return p.SendMessageTo(wire.Broadcast, text)
}

// SendMessageTo enqueues a unicast (or broadcast, if recipientID ==
// wire.Broadcast) MSG frame.
func (p *Peer) SendMessageTo(recipientID, text string) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	p.sendRaw(&wire.Packet{Type: wire.TypeMSG, SenderID: p.cfg.ID, RecipientID: recipientID, Payload: []byte(text)})
	if p.met != nil {
		p.met.MessagesSent.Inc()
	}
	if p.store != nil {
		p.store.Append(store.Record{At: time.Now(), Kind: "message", PeerID: recipientID, Outbound: true, Text: text})
	}
	return nil
}

// ListPeers returns the peer's last-known online set, excluding self.
func (p *Peer) ListPeers() []string {
	p.onlineMu.RLock()
	defer p.onlineMu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		if id == p.cfg.ID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Quit cooperatively shuts the peer down.
func (p *Peer) Quit() error {
	p.Stop()
	return nil
}

// SendFile opens path, segments it, and launches an outbound transfer
// task targeting recipientID (wire.Broadcast for everyone). It returns
// once the transfer has been accepted, not once it has completed;
// completion surfaces no event by design (the receiver-side events are
// the externally observable signal of success).
func (p *Peer) SendFile(path string, recipientID string) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Warnf("send-file: %s: %v", path, err)
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	fileID := atomic.AddInt32(&p.nextFileID, 1)

	filename := filepath.Base(path)
	segments := segmentData(data, wire.MaxChunkSize)
	transfer := newOutboundTransfer(fileID, filename, int64(len(data)), recipientID, segments)

	p.outMu.Lock()
	p.outbound[fileID] = transfer
	p.outMu.Unlock()

	p.Go(func() { p.runOutboundTransfer(transfer) })
	return nil
}
