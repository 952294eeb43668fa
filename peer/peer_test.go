package peer_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxrelay/foxrelay/broker"
	"github.com/foxrelay/foxrelay/peer"
	"github.com/foxrelay/foxrelay/peer/store"
)

type eventCollector struct {
	ch chan peer.Event
}

func newEventCollector() *eventCollector {
	return &eventCollector{ch: make(chan peer.Event, 256)}
}

func (c *eventCollector) OnEvent(e peer.Event) { c.ch <- e }

func (c *eventCollector) waitMessage(t *testing.T, timeout time.Duration) *peer.MessageEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-c.ch:
			if e.Message != nil {
				return e.Message
			}
		case <-deadline:
			t.Fatal("timed out waiting for message event")
		}
	}
}

func (c *eventCollector) waitFileComplete(t *testing.T, timeout time.Duration) *peer.FileCompleteEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-c.ch:
			if e.FileComplete != nil {
				return e.FileComplete
			}
			if e.FileFailed != nil {
				t.Fatalf("file transfer failed: %s", e.FileFailed.Reason)
			}
		case <-deadline:
			t.Fatal("timed out waiting for file-complete event")
		}
	}
}

func startBroker(t *testing.T) string {
	t.Helper()
	b := broker.New(broker.Config{ListenAddr: "127.0.0.1:0", SweepInterval: 50 * time.Millisecond, LivenessWindow: 200 * time.Millisecond})
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	return b.Addr().String()
}

func startPeer(t *testing.T, brokerAddr, id, filesDir string) (*peer.Peer, *eventCollector) {
	t.Helper()
	ec := newEventCollector()
	p := peer.New(peer.Config{
		ID:                id,
		BrokerAddr:        brokerAddr,
		HeartbeatInterval: 50 * time.Millisecond,
		AckWindow:         20 * time.Millisecond,
		MaxRetries:        5,
		PaceDelay:         2 * time.Millisecond,
		ReceivedFilesDir:  filesDir,
	}, ec)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p, ec
}

func TestBroadcastChat(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))
	_, ecC := startPeer(t, brokerAddr, "C", filepath.Join(dir, "c"))

	time.Sleep(100 * time.Millisecond) // let registrations settle
	require.NoError(t, a.SendMessage("hi"))

	mb := ecB.waitMessage(t, 2*time.Second)
	require.Equal(t, "A", mb.SenderID)
	require.Equal(t, "hi", mb.Text)

	mc := ecC.waitMessage(t, 2*time.Second)
	require.Equal(t, "A", mc.SenderID)
	require.Equal(t, "hi", mc.Text)
}

func TestUnicastChat(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))
	_, _ = startPeer(t, brokerAddr, "C", filepath.Join(dir, "c"))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, a.SendMessageTo("B", "psst"))

	mb := ecB.waitMessage(t, 2*time.Second)
	require.Equal(t, "psst", mb.Text)
}

func TestSmallFileBroadcast(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))
	_, ecC := startPeer(t, brokerAddr, "C", filepath.Join(dir, "c"))

	time.Sleep(100 * time.Millisecond)

	payload := make([]byte, 622)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	srcPath := filepath.Join(dir, "test-file.txt")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	require.NoError(t, a.SendFile(srcPath, "ALL"))

	fb := ecB.waitFileComplete(t, 3*time.Second)
	fc := ecC.waitFileComplete(t, 3*time.Second)

	gotB, err := os.ReadFile(fb.SavedPath)
	require.NoError(t, err)
	require.Equal(t, payload, gotB)

	gotC, err := os.ReadFile(fc.SavedPath)
	require.NoError(t, err)
	require.Equal(t, payload, gotC)
}

func TestMultiChunkFile(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))

	time.Sleep(100 * time.Millisecond)

	payload := make([]byte, 3*1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	srcPath := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))
	require.NoError(t, a.SendFile(srcPath, "ALL"))

	fb := ecB.waitFileComplete(t, 3*time.Second)
	got, err := os.ReadFile(fb.SavedPath)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEmptyFile(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))

	time.Sleep(100 * time.Millisecond)

	srcPath := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte{}, 0o644))
	require.NoError(t, a.SendFile(srcPath, "ALL"))

	fb := ecB.waitFileComplete(t, 3*time.Second)
	info, err := os.Stat(fb.SavedPath)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Size())
}

func TestConcurrentTransfersFromDifferentSenders(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))
	b, _ := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))
	_, ecC := startPeer(t, brokerAddr, "C", filepath.Join(dir, "c"))

	time.Sleep(100 * time.Millisecond)

	dataF1 := []byte("file one contents, short and sweet")
	dataF2 := []byte("file two contents, a bit different")
	f1 := filepath.Join(dir, "f1.txt")
	f2 := filepath.Join(dir, "f2.txt")
	require.NoError(t, os.WriteFile(f1, dataF1, 0o644))
	require.NoError(t, os.WriteFile(f2, dataF2, 0o644))

	require.NoError(t, a.SendFile(f1, "ALL"))
	require.NoError(t, b.SendFile(f2, "ALL"))

	var seen []*peer.FileCompleteEvent
	for i := 0; i < 2; i++ {
		seen = append(seen, ecC.waitFileComplete(t, 3*time.Second))
	}

	bySender := map[string]string{}
	for _, e := range seen {
		got, err := os.ReadFile(e.SavedPath)
		require.NoError(t, err)
		bySender[e.SenderID] = string(got)
	}
	require.Equal(t, string(dataF1), bySender["A"])
	require.Equal(t, string(dataF2), bySender["B"])
}

func TestTranscriptStoreRecordsMessages(t *testing.T) {
	brokerAddr := startBroker(t)
	dir := t.TempDir()

	storePath := filepath.Join(dir, "a-transcript.db")
	ecA := newEventCollector()
	a := peer.New(peer.Config{
		ID:                "A",
		BrokerAddr:        brokerAddr,
		HeartbeatInterval: 50 * time.Millisecond,
		AckWindow:         20 * time.Millisecond,
		MaxRetries:        5,
		PaceDelay:         2 * time.Millisecond,
		ReceivedFilesDir:  filepath.Join(dir, "a"),
		StorePath:         storePath,
		StorePassphrase:   []byte("hunter2"),
	}, ecA)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)

	_, ecB := startPeer(t, brokerAddr, "B", filepath.Join(dir, "b"))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, a.SendMessageTo("B", "stored?"))
	ecB.waitMessage(t, 2*time.Second)

	require.NoError(t, a.SendMessage("broadcast too"))
	ecB.waitMessage(t, 2*time.Second)

	a.Stop()

	s, err := store.Open(storePath, []byte("hunter2"))
	require.NoError(t, err)
	defer s.Close()

	var recs []store.Record
	require.Eventually(t, func() bool {
		recs, err = s.List()
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "stored?", recs[0].Text)
	require.True(t, recs[0].Outbound)
	require.Equal(t, "broadcast too", recs[1].Text)
}

func TestPeerTimeout(t *testing.T) {
	b := broker.New(broker.Config{ListenAddr: "127.0.0.1:0", SweepInterval: 50 * time.Millisecond, LivenessWindow: 150 * time.Millisecond})
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	brokerAddr := b.Addr().String()

	dir := t.TempDir()
	a, _ := startPeer(t, brokerAddr, "A", filepath.Join(dir, "a"))

	cID := "C"
	cfgC := peer.Config{ID: cID, BrokerAddr: brokerAddr, HeartbeatInterval: 20 * time.Millisecond, ReceivedFilesDir: filepath.Join(dir, "c")}
	pc := peer.New(cfgC, newEventCollector())
	require.NoError(t, pc.Start())
	pc.Stop() // stop C's heartbeats by tearing it down entirely

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stillThere := false
		for _, id := range a.ListPeers() {
			if id == cID {
				stillThere = true
				break
			}
		}
		if !stillThere {
			return // C is gone: success
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected C to be evicted from A's peer list after the liveness window, got %v", a.ListPeers())
}
