// Command seqnode runs one sequence-number node: a fixed set of durable
// shards handing out monotonic per-conversation sequence numbers to
// every message node that dials in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primcluster/mesh/config"
	"github.com/primcluster/mesh/metrics"
	"github.com/primcluster/mesh/seqnode"
	"github.com/primcluster/mesh/transport"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("seqnode: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	go waitForShutdown(stop)

	self, ok := cfg.Self()
	if !ok {
		log.Fatalf("seqnode: no cluster node named %q in config", cfg.Cluster.ThisName)
	}

	mode, err := parseDurability(cfg.Seqnode.Durability)
	if err != nil {
		log.Fatalf("seqnode: %v", err)
	}

	node, err := seqnode.New(self.ID, cfg.Seqnode.BaseDir, cfg.Seqnode.ShardCount, mode)
	if err != nil {
		log.Fatalf("seqnode: open node: %v", err)
	}
	defer node.Close()

	tlsCfg, err := transport.LoadServerTLSConfig(cfg.Transport.CertFile, cfg.Transport.KeyFile)
	if err != nil {
		log.Fatalf("seqnode: %v", err)
	}
	listenerCfg := transport.ListenerConfig{
		Addr:              self.Addr,
		TLSConfig:         tlsCfg,
		MaxConnections:    cfg.Transport.MaxConnections,
		IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
	}

	var srv transport.Server
	go func() {
		if err := srv.Run(ctx, listenerCfg, func() transport.Handler {
			return &seqnode.SessionHandler{
				Node:              node,
				KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
			}
		}); err != nil {
			log.Printf("seqnode: listener stopped: %v", err)
		}
	}()
	log.Printf("seqnode %d: listening on %s (mode=%s, shards=%d)", self.ID, self.Addr, cfg.Seqnode.Durability, cfg.Seqnode.ShardCount)

	if cfg.Admin.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		httpSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("seqnode: metrics http server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	log.Printf("seqnode %d: shutting down", self.ID)
}

func parseDurability(s string) (seqnode.DurabilityMode, error) {
	switch s {
	case "exactly":
		return seqnode.Exactly, nil
	case "batched":
		return seqnode.Batched, nil
	default:
		return 0, fmt.Errorf("seqnode: unknown durability mode %q (want \"exactly\" or \"batched\")", s)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Printf("seqnode: signal received: %s, shutting down", sig)
	cancel()
}
