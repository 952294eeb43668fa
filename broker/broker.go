// Package broker implements the single central relay: it accepts
// REGISTER/HEARTBEAT from peers, keeps a liveness-monitored registry,
// and fans frames out by broadcast or unicast.
package broker

import (
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	eapache "gopkg.in/eapache/channels.v1"

	"github.com/foxrelay/foxrelay/internal/metrics"
	"github.com/foxrelay/foxrelay/internal/worker"
	"github.com/foxrelay/foxrelay/wire"
)

// DefaultPort is the broker's default fixed UDP port.
const DefaultPort = 9876

const (
	defaultSweepInterval  = 5 * time.Second
	defaultLivenessWindow = 15 * time.Second
)

// Config configures a Broker.
type Config struct {
	ListenAddr     string // e.g. ":9876"; defaults to ":9876"
	SweepInterval  time.Duration
	LivenessWindow time.Duration
	Log            *log.Logger
	Metrics        *metrics.Broker
}

// Broker is the central relay. Construct with New, then Start; Stop
// tears it down. A Broker is an explicit object rather than
// process-global state so tests can run several on distinct ports.
type Broker struct {
	worker.Worker

	cfg  Config
	log  *log.Logger
	conn *net.UDPConn
	reg  *registry
	met  *metrics.Broker

	inbound *eapache.InfiniteChannel
}

type inboundFrame struct {
	data []byte
	n    int
	from *net.UDPAddr
}

// New constructs a Broker without binding a socket.
func New(cfg Config) *Broker {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = defaultLivenessWindow
	}
	l := cfg.Log
	if l == nil {
		l = log.Default()
	}
	return &Broker{
		cfg:     cfg,
		log:     l.WithPrefix("broker"),
		reg:     newRegistry(),
		met:     cfg.Metrics,
		inbound: eapache.NewInfiniteChannel(),
	}
}

// Start binds the broker's UDP socket and launches the receive loop,
// the dispatch worker, and the liveness sweeper.
func (b *Broker) Start() error {
	addr, err := net.ResolveUDPAddr("udp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("broker: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("broker: bind: %w", err)
	}
	b.conn = conn
	b.log.Infof("listening on %s", conn.LocalAddr())

	b.Go(b.receiveLoop)
	b.Go(b.dispatchLoop)
	b.Go(b.sweepLoop)
	return nil
}

// Addr returns the bound local address. Only valid after Start.
func (b *Broker) Addr() net.Addr {
	return b.conn.LocalAddr()
}

// Stop halts every worker goroutine and closes the socket.
func (b *Broker) Stop() {
	b.Halt()
	if b.conn != nil {
		b.conn.Close()
	}
	b.inbound.Close()
	b.Wait()
}

// receiveLoop reads one datagram at a time and hands it to the
// dispatch queue, so a burst of arrivals cannot stall the socket read.
func (b *Broker) receiveLoop() {
	buf := make([]byte, wire.MaxFrameSize)
	for {
		select {
		case <-b.HaltCh():
			return
		default:
		}

		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.HaltCh():
				return
			default:
			}
			b.log.Warnf("receive error: %v", err)
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		b.inbound.In() <- &inboundFrame{data: cp, n: n, from: from}
	}
}

// dispatchLoop deserializes and handles frames pulled off the
// dispatch queue, one at a time, which is what gives the broker its
// per-sender relay ordering guarantee (spec: single sequential
// dispatcher, synchronous sends).
func (b *Broker) dispatchLoop() {
	for {
		select {
		case <-b.HaltCh():
			return
		case raw, ok := <-b.inbound.Out():
			if !ok {
				return
			}
			frame := raw.(*inboundFrame)
			b.handleFrame(frame.data, frame.from)
		}
	}
}

func (b *Broker) handleFrame(data []byte, from *net.UDPAddr) {
	p := &wire.Packet{}
	if err := p.UnmarshalBinary(data); err != nil {
		b.log.Warnf("dropping malformed frame from %s: %v", from, err)
		b.countDrop("malformed")
		return
	}

	if b.met != nil {
		b.met.FramesReceived.WithLabelValues(p.Type.String()).Inc()
	}

	now := time.Now()
	switch p.Type {
	case wire.TypeRegister:
		b.handleRegister(p, from, now)
	case wire.TypeHeartbeat:
		b.handleHeartbeat(p, from, now)
	case wire.TypeMSG, wire.TypeFileStart, wire.TypeFileEnd:
		b.reg.touch(p.SenderID, now)
		b.route(p, from)
	case wire.TypeFileChunk:
		b.reg.touch(p.SenderID, now)
		b.route(p, from)
		b.sendAck(wire.TypeFileAck, p.SenderID, from, p.Sequence, p.FileID)
	case wire.TypeFileAck:
		b.reg.touch(p.SenderID, now)
		// Consumed silently: peer-to-peer file acks are not surfaced
		// above the broker in the core design.
	default:
		b.log.Warnf("dropping frame of unknown type %d from %s", p.Type, from)
		b.countDrop("unknown-type")
	}
}

func (b *Broker) handleRegister(p *wire.Packet, from *net.UDPAddr, now time.Time) {
	created := b.reg.upsert(p.SenderID, from, now)
	b.log.Infof("REGISTER %s from %s (new=%v)", p.SenderID, from, created)

	b.sendAck(wire.TypeAck, p.SenderID, from, 0, 0)
	b.broadcastClientList()
	if b.met != nil {
		b.met.RegisteredPeers.Set(float64(b.reg.len()))
	}
}

func (b *Broker) handleHeartbeat(p *wire.Packet, from *net.UDPAddr, now time.Time) {
	if b.reg.touch(p.SenderID, now) {
		return
	}
	// Implicit registration: a HEARTBEAT from an unknown peer must not
	// lose presence just because the REGISTER was missed or the
	// broker restarted.
	b.log.Infof("implicit REGISTER via HEARTBEAT for %s from %s", p.SenderID, from)
	b.reg.upsert(p.SenderID, from, now)
	b.broadcastClientList()
	if b.met != nil {
		b.met.RegisteredPeers.Set(float64(b.reg.len()))
	}
}

// route applies the §4.2 routing rules for MSG/FILE_START/FILE_CHUNK/FILE_END.
func (b *Broker) route(p *wire.Packet, from *net.UDPAddr) {
	if p.RecipientID == wire.Broadcast {
		b.broadcastExcept(p, p.SenderID)
		return
	}

	dst, ok := b.reg.lookup(p.RecipientID)
	if !ok {
		b.log.Warnf("dropping %s from %s: unknown recipient %q", p.Type, p.SenderID, p.RecipientID)
		b.countDrop("unknown-recipient")
		return
	}
	b.send(p, dst.addr)
	if b.met != nil {
		b.met.FramesRouted.Inc()
	}
}

// broadcastExcept serializes p once and sends it to every registry
// entry except excludeID, reading a single snapshot so the fan-out set
// equals the registry at the instant of fan-out minus the sender.
func (b *Broker) broadcastExcept(p *wire.Packet, excludeID string) {
	targets := b.reg.snapshotExcept(excludeID)
	for _, t := range targets {
		b.send(p, t.addr)
	}
	if len(targets) > 0 && b.met != nil {
		b.met.FramesRouted.Inc()
	}
}

func (b *Broker) broadcastClientList() {
	ids := b.reg.ids()
	list := &wire.Packet{
		Type:        wire.TypeClientList,
		SenderID:    wire.ServerSenderID,
		RecipientID: wire.Broadcast,
		Payload:     wire.ClientListPayload(ids),
	}
	b.broadcastExcept(list, "")
}

func (b *Broker) sendAck(typ wire.Type, recipientID string, to *net.UDPAddr, seq, fileID int32) {
	ack := &wire.Packet{
		Type:        typ,
		SenderID:    wire.ServerSenderID,
		RecipientID: recipientID,
		Sequence:    seq,
		FileID:      fileID,
	}
	b.send(ack, to)
}

func (b *Broker) send(p *wire.Packet, to *net.UDPAddr) {
	data, err := p.MarshalBinary()
	if err != nil {
		b.log.Errorf("failed to encode outgoing %s: %v", p.Type, err)
		return
	}
	if _, err := b.conn.WriteToUDP(data, to); err != nil {
		// A dropped send is indistinguishable from UDP loss and falls
		// under the normal best-effort reliability model.
		b.log.Warnf("send error to %s: %v", to, err)
	}
}

func (b *Broker) countDrop(reason string) {
	if b.met != nil {
		b.met.FramesDropped.WithLabelValues(reason).Inc()
	}
}

// sweepLoop periodically evicts peers that have exceeded the
// liveness window and broadcasts a fresh CLIENT_LIST on any removal.
func (b *Broker) sweepLoop() {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.HaltCh():
			return
		case now := <-ticker.C:
			removed := b.reg.sweep(now, b.cfg.LivenessWindow)
			if len(removed) == 0 {
				continue
			}
			for _, id := range removed {
				b.log.Infof("evicted %s (exceeded liveness window)", id)
			}
			if b.met != nil {
				b.met.Evictions.Add(float64(len(removed)))
				b.met.RegisteredPeers.Set(float64(b.reg.len()))
			}
			b.broadcastClientList()
		}
	}
}
