// Command foxrelay-broker runs the central relay: one fixed UDP
// socket, a liveness-monitored peer registry, and a broadcast/unicast
// relay engine.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxrelay/foxrelay/broker"
	"github.com/foxrelay/foxrelay/internal/config"
	"github.com/foxrelay/foxrelay/internal/metrics"
	"github.com/foxrelay/foxrelay/internal/netlog"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	listenAddr := flag.String("listen", "", "UDP listen address, overrides config (default :9876)")
	flag.Parse()

	cfg := &config.Broker{}
	if *configPath != "" {
		loaded, err := config.LoadBroker(*configPath)
		if err != nil {
			os.Stderr.WriteString("foxrelay-broker: failed to load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	logger := netlog.New(cfg.LogLevel)
	reg := prometheus.NewRegistry()
	met := metrics.NewBroker(reg)

	b := broker.New(broker.Config{
		ListenAddr:     cfg.ListenAddr,
		SweepInterval:  cfg.SweepIntervalDuration(),
		LivenessWindow: cfg.LivenessWindowDuration(),
		Log:            logger,
		Metrics:        met,
	})

	if err := b.Start(); err != nil {
		logger.Errorf("failed to start: %v", err)
		os.Exit(1)
	}
	defer b.Stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := <-metrics.ServeHTTP(cfg.MetricsAddr, reg); err != nil {
				logger.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
