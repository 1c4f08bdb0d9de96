// Command msglognode runs the durable per-shard message log: a
// Unix-socket IPC server message nodes Append to, plus a retention
// sweeper that prunes expired segment files from every shard.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primcluster/mesh/config"
	"github.com/primcluster/mesh/metrics"
	"github.com/primcluster/mesh/msglog"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("msglognode: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	go waitForShutdown(stop)

	srv, err := msglog.NewServer(cfg.Msglog.SocketPath, cfg.Msglog.Dir, cfg.Msglog.ShardCount)
	if err != nil {
		log.Fatalf("msglognode: open server: %v", err)
	}
	defer srv.Close()

	retention := time.Duration(cfg.Msglog.RetentionDays) * 24 * time.Hour
	sweepStop := make(chan struct{})
	if retention > 0 && cfg.Msglog.SweepInterval.Duration > 0 {
		for _, shard := range srv.Shards() {
			go shard.RunRetentionSweeper(cfg.Msglog.SweepInterval.Duration, retention, sweepStop, func(err error) {
				log.Printf("msglognode: retention sweep failed: %v", err)
			})
		}
	}

	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Printf("msglognode: serve stopped: %v", err)
		}
	}()
	log.Printf("msglognode: listening on %s (shards=%d)", cfg.Msglog.SocketPath, cfg.Msglog.ShardCount)

	if cfg.Admin.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		httpSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("msglognode: metrics http server stopped: %v", err)
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
	close(sweepStop)
	log.Printf("msglognode: shutting down")
}

func waitForShutdown(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Printf("msglognode: signal received: %s, shutting down", sig)
	cancel()
}
