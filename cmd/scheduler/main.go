// Command scheduler runs the mesh's membership-and-routing node: the
// Registry of live message/sequence/recorder nodes, the admin HTTP
// surface, and the external gRPC boundary callers outside the mesh use
// to resolve WhichNode or push a message in.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/primcluster/mesh/admin"
	"github.com/primcluster/mesh/cluster"
	"github.com/primcluster/mesh/config"
	"github.com/primcluster/mesh/metrics"
	"github.com/primcluster/mesh/relationship"
	"github.com/primcluster/mesh/transport"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	go waitForShutdown(stop)

	var hint cluster.HintCache
	if cfg.HintCache.Addr != "" {
		hint = cluster.NewRedisHintCache(redis.NewClient(&redis.Options{Addr: cfg.HintCache.Addr}), cfg.HintCache.TTL.Duration)
		log.Printf("scheduler: using redis hint cache at %s", cfg.HintCache.Addr)
	} else {
		hint = cluster.NewMemHintCache()
		log.Printf("scheduler: using in-process hint cache")
	}
	registry := cluster.NewRegistry(hint)

	var rel *relationship.Store
	var relClient cluster.RelationshipClient
	if cfg.Relationship.DSN != "" {
		rel, err = relationship.Open(cfg.Relationship.DSN)
		if err != nil {
			log.Fatalf("scheduler: open relationship store: %v", err)
		}
		defer rel.Close()
		relClient = rel
	}

	scheduler := cluster.NewScheduler(registry, relClient)

	tlsCfg, err := transport.LoadServerTLSConfig(cfg.Transport.CertFile, cfg.Transport.KeyFile)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	self, ok := cfg.Self()
	if !ok {
		log.Fatalf("scheduler: no cluster node named %q in config", cfg.Cluster.ThisName)
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
			return &cluster.SessionHandler{
				Scheduler:         scheduler,
				KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
			}
		}); err != nil {
			log.Printf("scheduler: mesh listener stopped: %v", err)
		}
	}()
	log.Printf("scheduler: mesh listener on %s", self.Addr)

	if cfg.Admin.GRPCListenAddr != "" {
		forwarder := &cluster.RegistryForwarder{Registry: registry}
		adminSvc := cluster.NewAdminService(registry, relClient, forwarder)
		grpcServer := grpc.NewServer()
		cluster.RegisterAdminService(grpcServer, adminSvc)

		lis, err := net.Listen("tcp", cfg.Admin.GRPCListenAddr)
		if err != nil {
			log.Fatalf("scheduler: listen grpc: %v", err)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("scheduler: grpc server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
		log.Printf("scheduler: admin grpc listening on %s", cfg.Admin.GRPCListenAddr)
	}

	if cfg.Admin.ListenAddr != "" {
		adminServer := admin.NewServer(registry, rel)
		mux := http.NewServeMux()
		mux.Handle("/", adminServer.Router())
		mux.Handle("/metrics", metrics.Handler())

		httpSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("scheduler: admin http server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		log.Printf("scheduler: admin http listening on %s", cfg.Admin.ListenAddr)
	}

	<-ctx.Done()
	log.Printf("scheduler: shutting down")
}

func waitForShutdown(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Printf("scheduler: signal received: %s, shutting down", sig)
	cancel()
}
