package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleTOML = `
[cluster]
self = "node-a"
nodes = [
  { name = "node-a", addr = "127.0.0.1:9001", role = "msgnode", id = 131073, peer_addr = "127.0.0.1:9101" },
  { name = "node-b", addr = "127.0.0.1:9002", role = "msgnode", id = 131074, peer_addr = "127.0.0.1:9102" },
  { name = "sched-a", addr = "127.0.0.1:9000", role = "scheduler", id = 1 },
]

[transport]
listen_addr = ":9001"
cert_file = "cert.pem"
key_file = "key.pem"
ca_file = "ca.pem"
idle_timeout = "30s"
keep_alive_interval = "10s"
max_connections = 4096

[seqnode]
base_dir = "/var/lib/mesh/seq"
shard_count = 16
durability = "batched"

[msglog]
socket_path = "/run/mesh/msglog.sock"
dir = "/var/lib/mesh/log"
shard_count = 8
retention_days = 30
sweep_interval = "1h"

[mq]
plugins = '[{"name":"kafka","config":{"brokers":["localhost:9092"]}}]'

[auth]
hmac_key_hex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddee"
lifetime = "24h"
serial = 7

[relationship]
dsn = "user:pass@tcp(127.0.0.1:3306)/mesh"

[admin]
listen_addr = ":8080"
grpc_listen_addr = ":9090"

[hint_cache]
addr = "127.0.0.1:6379"
ttl = "10m"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cluster.ThisName != "node-a" {
		t.Fatalf("expected self node-a, got %q", cfg.Cluster.ThisName)
	}
	if len(cfg.Cluster.Nodes) != 3 || cfg.Cluster.Nodes[1].Addr != "127.0.0.1:9002" {
		t.Fatalf("unexpected nodes: %+v", cfg.Cluster.Nodes)
	}
	if cfg.Cluster.Nodes[0].ID != 131073 || cfg.Cluster.Nodes[0].PeerAddr != "127.0.0.1:9101" {
		t.Fatalf("unexpected node-a id/peer_addr: %+v", cfg.Cluster.Nodes[0])
	}
	if cfg.Seqnode.ShardCount != 16 || cfg.Seqnode.Durability != "batched" {
		t.Fatalf("unexpected seqnode config: %+v", cfg.Seqnode)
	}
	if cfg.Transport.IdleTimeout.Duration != 30*time.Second || cfg.Transport.KeepAliveInterval.Duration != 10*time.Second || cfg.Transport.MaxConnections != 4096 {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Msglog.SweepInterval.Duration != time.Hour {
		t.Fatalf("expected 1h sweep interval, got %v", cfg.Msglog.SweepInterval.Duration)
	}
	if cfg.Auth.Lifetime.Duration != 24*time.Hour || cfg.Auth.Serial != 7 {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Admin.ListenAddr != ":8080" || cfg.Admin.GRPCListenAddr != ":9090" {
		t.Fatalf("unexpected admin config: %+v", cfg.Admin)
	}
	if cfg.HintCache.Addr != "127.0.0.1:6379" || cfg.HintCache.TTL.Duration != 10*time.Minute {
		t.Fatalf("unexpected hint cache config: %+v", cfg.HintCache)
	}
}

func TestSelfAndRoleLookups(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	self, ok := cfg.Self()
	if !ok || self.Addr != "127.0.0.1:9001" {
		t.Fatalf("unexpected self node: %+v, ok=%v", self, ok)
	}
	if _, ok := cfg.NodeNamed("does-not-exist"); ok {
		t.Fatal("expected NodeNamed to report false for an unknown name")
	}
	msgnodes := cfg.NodesWithRole("msgnode")
	wantMsgnodes := []ClusterNode{
		{Name: "node-a", Addr: "127.0.0.1:9001", Role: "msgnode", ID: 131073, PeerAddr: "127.0.0.1:9101"},
		{Name: "node-b", Addr: "127.0.0.1:9002", Role: "msgnode", ID: 131074, PeerAddr: "127.0.0.1:9102"},
	}
	if diff := cmp.Diff(wantMsgnodes, msgnodes); diff != "" {
		t.Fatalf("unexpected msgnode role entries (-want +got):\n%s", diff)
	}
	sched := cfg.NodesWithRole("scheduler")
	if len(sched) != 1 || sched[0].Name != "sched-a" {
		t.Fatalf("unexpected scheduler role entries: %+v", sched)
	}
}

func TestEnvOverrideWinsWhenSet(t *testing.T) {
	t.Setenv("MESH_CLUSTER_SELF", "node-b")
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.ThisName != "node-b" {
		t.Fatalf("expected env override to win, got %q", cfg.Cluster.ThisName)
	}
}

func TestEnvOverrideLeavesFileValueWhenUnset(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.ThisName != "node-a" {
		t.Fatalf("expected file value preserved, got %q", cfg.Cluster.ThisName)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
