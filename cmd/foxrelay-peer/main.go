// Command foxrelay-peer is a minimal line-oriented shell driving the
// peer core. It is intentionally thin: the interesting behavior all
// lives in package peer.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxrelay/foxrelay/internal/config"
	"github.com/foxrelay/foxrelay/internal/metrics"
	"github.com/foxrelay/foxrelay/internal/netlog"
	"github.com/foxrelay/foxrelay/peer"
)

type shell struct {
	p *peer.Peer
}

func (s *shell) OnEvent(e peer.Event) {
	switch {
	case e.Message != nil:
		fmt.Printf("[%s] %s\n", e.Message.SenderID, e.Message.Text)
	case e.FileStart != nil:
		fmt.Printf("receiving %q from %s (%d bytes)\n", e.FileStart.Filename, e.FileStart.SenderID, e.FileStart.Size)
	case e.FileProgress != nil:
		fmt.Printf("  %s: %d/%d bytes\n", e.FileProgress.SenderID, e.FileProgress.BytesReceived, e.FileProgress.TotalSize)
	case e.FileComplete != nil:
		fmt.Printf("saved %s -> %s\n", e.FileComplete.SenderID, e.FileComplete.SavedPath)
	case e.FileFailed != nil:
		fmt.Printf("transfer from %s failed: %s\n", e.FileFailed.SenderID, e.FileFailed.Reason)
	case e.PeerList != nil:
		fmt.Printf("online: %s\n", strings.Join(e.PeerList.IDs, ", "))
	}
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	id := flag.String("id", "", "this peer's id, overrides config")
	brokerAddr := flag.String("broker", "", "broker UDP address, overrides config (default 127.0.0.1:9876)")
	flag.Parse()

	cfg := &config.Peer{}
	if *configPath != "" {
		loaded, err := config.LoadPeer(*configPath)
		if err != nil {
			os.Stderr.WriteString("foxrelay-peer: failed to load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *id != "" {
		cfg.ID = *id
	}
	if *brokerAddr != "" {
		cfg.BrokerAddr = *brokerAddr
	}
	if cfg.BrokerAddr == "" {
		cfg.BrokerAddr = "127.0.0.1:9876"
	}
	if cfg.ID == "" {
		os.Stderr.WriteString("foxrelay-peer: -id is required\n")
		os.Exit(1)
	}

	logger := netlog.New(cfg.LogLevel)
	reg := prometheus.NewRegistry()
	met := metrics.NewPeer(reg)

	var passphrase []byte
	if cfg.StorePath != "" {
		if v := os.Getenv(config.StorePassphraseEnvVar); v != "" {
			passphrase = []byte(v)
		} else {
			logger.Errorf("store_path is set but %s is empty", config.StorePassphraseEnvVar)
			os.Exit(1)
		}
	}

	s := &shell{}
	p := peer.New(peer.Config{
		ID:                cfg.ID,
		BrokerAddr:        cfg.BrokerAddr,
		HeartbeatInterval: cfg.HeartbeatIntervalDuration(),
		AckWindow:         cfg.AckWindowDuration(),
		MaxRetries:        cfg.MaxRetriesOrDefault(),
		PaceDelay:         cfg.PaceDelayDuration(),
		ReceivedFilesDir:  cfg.ReceivedFilesDirOrDefault(),
		Log:               logger,
		Metrics:           met,
		StorePath:         cfg.StorePath,
		StorePassphrase:   passphrase,
	}, s)
	s.p = p

	if err := p.Start(); err != nil {
		logger.Errorf("failed to start: %v", err)
		os.Exit(1)
	}
	defer p.Stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := <-metrics.ServeHTTP(cfg.MetricsAddr, reg); err != nil {
				logger.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	runShell(s)
}

// runShell is a minimal line-oriented REPL: the external collaborator
// the core peer package is driven through. Commands:
//
//	msg <text>                broadcast a message
//	msg-to <id> <text>        unicast a message
//	send <path>                broadcast a file
//	send-to <id> <path>        unicast a file
//	list                       show the known online set
//	quit                       shut down
func runShell(s *shell) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		cmd := fields[0]

		var err error
		switch cmd {
		case "msg":
			if len(fields) < 2 {
				fmt.Println("usage: msg <text>")
				continue
			}
			err = s.p.SendMessage(strings.SplitN(line, " ", 2)[1])
		case "msg-to":
			if len(fields) < 3 {
				fmt.Println("usage: msg-to <id> <text>")
				continue
			}
			err = s.p.SendMessageTo(fields[1], fields[2])
		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <path>")
				continue
			}
			err = s.p.SendFile(fields[1], "ALL")
		case "send-to":
			if len(fields) < 3 {
				fmt.Println("usage: send-to <id> <path>")
				continue
			}
			err = s.p.SendFile(fields[2], fields[1])
		case "list":
			fmt.Printf("online: %s\n", strings.Join(s.p.ListPeers(), ", "))
		case "quit":
			return
		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
