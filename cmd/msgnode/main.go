// Command msgnode runs one message-processing node: it terminates
// client connections, routes envelopes to their owning node (locally or
// over a peer mesh connection), assigns sequence numbers via a seqnode,
// durably logs every message, and fans business-significant traffic out
// to the message queue.
package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primcluster/mesh/authtoken"
	"github.com/primcluster/mesh/cluster"
	"github.com/primcluster/mesh/config"
	"github.com/primcluster/mesh/metrics"
	"github.com/primcluster/mesh/mq"
	"github.com/primcluster/mesh/msglog"
	"github.com/primcluster/mesh/msgnode"
	"github.com/primcluster/mesh/relationship"
	"github.com/primcluster/mesh/reqwest"
	"github.com/primcluster/mesh/seqnode"
	"github.com/primcluster/mesh/transport"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	seqnodeAddr := flag.String("seqnode", "", "address of this node's colocated seqnode")
	msglogSocket := flag.String("msglog", "", "unix socket path of this node's colocated log node")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("msgnode: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	go waitForShutdown(stop)

	self, ok := cfg.Self()
	if !ok {
		log.Fatalf("msgnode: no cluster node named %q in config", cfg.Cluster.ThisName)
	}
	selfID := self.ID

	node := msgnode.NewNode(selfID)
	node.Retry = msgnode.NewRetryManager(msgnode.DefaultAckTimeout, node.Resend)
	node.MQ = mq.Registry{}
	if cfg.MQ.Raw != "" {
		if err := mq.Init(cfg.MQ.Raw); err != nil {
			log.Fatalf("msgnode: init message queue: %v", err)
		}
	}

	if cfg.Relationship.DSN != "" {
		rel, err := relationship.Open(cfg.Relationship.DSN)
		if err != nil {
			log.Fatalf("msgnode: open relationship store: %v", err)
		}
		defer rel.Close()
		node.Rel = rel
		node.Groups = rel
	}

	clientTLS, err := transport.LoadClientTLSConfig(cfg.Transport.CAFile)
	if err != nil {
		log.Fatalf("msgnode: %v", err)
	}
	var client transport.Client

	if *seqnodeAddr != "" {
		seq, err := dialSeqnode(ctx, &client, *seqnodeAddr, clientTLS, cfg)
		if err != nil {
			log.Fatalf("msgnode: dial seqnode: %v", err)
		}
		node.Seqnum = seq
	}

	if *msglogSocket != "" {
		logClient, err := msglog.Dial(*msglogSocket)
		if err != nil {
			log.Fatalf("msgnode: dial msglog: %v", err)
		}
		node.Log = logClient
	}

	schedulers := cfg.NodesWithRole("scheduler")
	if len(schedulers) > 0 {
		sched, err := dialScheduler(ctx, &client, schedulers[0].Addr, clientTLS, cfg, selfID, self.Addr, self.PeerAddr)
		if err != nil {
			log.Fatalf("msgnode: dial scheduler: %v", err)
		}
		node.Resolver = sched
		if node.Groups == nil {
			node.Groups = sched
		}
	}

	var auth *authtoken.Issuer
	if cfg.Auth.HMACKeyHex != "" {
		key, err := hex.DecodeString(cfg.Auth.HMACKeyHex)
		if err != nil {
			log.Fatalf("msgnode: decode auth key: %v", err)
		}
		auth, err = authtoken.NewIssuer(key, cfg.Auth.Lifetime.Duration, cfg.Auth.Serial)
		if err != nil {
			log.Fatalf("msgnode: new issuer: %v", err)
		}
	}

	serverTLS, err := transport.LoadServerTLSConfig(cfg.Transport.CertFile, cfg.Transport.KeyFile)
	if err != nil {
		log.Fatalf("msgnode: %v", err)
	}
	clientListenerCfg := transport.ListenerConfig{
		Addr:              self.Addr,
		TLSConfig:         serverTLS,
		MaxConnections:    cfg.Transport.MaxConnections,
		IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
	}

	var clientSrv transport.Server
	go func() {
		if err := clientSrv.Run(ctx, clientListenerCfg, func() transport.Handler {
			return &msgnode.ClientSessionHandler{
				Node:              node,
				Auth:              auth,
				KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
			}
		}); err != nil {
			log.Printf("msgnode: client listener stopped: %v", err)
		}
	}()
	log.Printf("msgnode %d: client listener on %s", selfID, self.Addr)

	if self.PeerAddr != "" {
		peerListenerCfg := clientListenerCfg
		peerListenerCfg.Addr = self.PeerAddr
		var peerSrv transport.Server
		go func() {
			if err := peerSrv.Run(ctx, peerListenerCfg, func() transport.Handler {
				return &msgnode.PeerSessionHandler{
					Node:              node,
					SelfID:            selfID,
					KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
				}
			}); err != nil {
				log.Printf("msgnode: peer listener stopped: %v", err)
			}
		}()
		log.Printf("msgnode %d: peer listener on %s", selfID, self.PeerAddr)
	}

	for _, peer := range cfg.NodesWithRole("msgnode") {
		if peer.Name == self.Name || peer.PeerAddr == "" {
			continue
		}
		go dialPeerWithRetry(ctx, &client, peer.PeerAddr, clientTLS, cfg, node, selfID)
	}

	if cfg.Admin.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		httpSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("msgnode: metrics http server stopped: %v", err)
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
	log.Printf("msgnode %d: shutting down", selfID)
}

func dialSeqnode(ctx context.Context, client *transport.Client, addr string, tlsCfg *tls.Config, cfg *config.Config) (*seqnode.RemoteClient, error) {
	sess, err := client.Connect(ctx, transport.EndpointConfig{
		Addr:              addr,
		TLSConfig:         tlsCfg,
		IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
	})
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenReqwestStream(ctx)
	if err != nil {
		return nil, err
	}
	conn := reqwest.NewConn(stream, cfg.Transport.KeepAliveInterval.Duration, sess.Beat)
	conn.Start(ctx)
	return &seqnode.RemoteClient{Conn: conn}, nil
}

func dialScheduler(ctx context.Context, client *transport.Client, addr string, tlsCfg *tls.Config, cfg *config.Config, selfID uint32, serviceAddr, clusterAddr string) (*cluster.RemoteScheduler, error) {
	sess, err := client.Connect(ctx, transport.EndpointConfig{
		Addr:              addr,
		TLSConfig:         tlsCfg,
		IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
	})
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenReqwestStream(ctx)
	if err != nil {
		return nil, err
	}
	conn := reqwest.NewConn(stream, cfg.Transport.KeepAliveInterval.Duration, sess.Beat)
	conn.Start(ctx)

	self := cluster.ServerInfo{ID: selfID, ServiceAddress: serviceAddr, ClusterAddress: clusterAddr, Status: "up", Type: cluster.TypeMessageCluster}
	if _, err := cluster.AuthNode(ctx, conn, self); err != nil {
		return nil, err
	}
	if _, err := cluster.RegisterNode(ctx, conn, cluster.FlagNewPeer, cluster.ClassMessage, self); err != nil {
		return nil, err
	}
	return &cluster.RemoteScheduler{Conn: conn}, nil
}

func dialPeerWithRetry(ctx context.Context, client *transport.Client, addr string, tlsCfg *tls.Config, cfg *config.Config, node *msgnode.Node, selfID uint32) {
	backoff := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	sess, err := transport.ConnectWithRetry(ctx, client, transport.EndpointConfig{
		Addr:              addr,
		TLSConfig:         tlsCfg,
		IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval.Duration,
	}, backoff)
	if err != nil {
		log.Printf("msgnode: giving up dialing peer %s: %v", addr, err)
		return
	}
	if _, err := msgnode.DialPeer(ctx, node, selfID, sess, cfg.Transport.KeepAliveInterval.Duration); err != nil {
		log.Printf("msgnode: peer handshake with %s failed: %v", addr, err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Printf("msgnode: signal received: %s, shutting down", sig)
	cancel()
}
