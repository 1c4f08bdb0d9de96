// Package config loads the TOML configuration shared by every node binary
// (scheduler, message node, sequence node, log node) and applies
// environment-variable overrides on top of it. The override shape mirrors
// clusterInit's handling of its node-name flag: a value supplied outside
// the config file always wins over the one baked into it, but an absent
// override never erases a configured value.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ClusterNode is one member of the Scheduler's membership list. Role
// distinguishes what kind of node binary listens at Addr ("scheduler",
// "msgnode", or "seqnode"), since a node binary dials every mesh peer it
// depends on out of this same list.
type ClusterNode struct {
	Name string `toml:"name"`
	Addr string `toml:"addr"`
	Role string `toml:"role"`
	// ID is the node's numeric id within its NodeClass range (see
	// cluster.NodeClass); distinct from Name, which is just this
	// config's human-readable lookup key.
	ID uint32 `toml:"id"`
	// PeerAddr is a message node's mesh-facing listen address, separate
	// from Addr (which client connections dial); empty for any node
	// that accepts no peer mesh connections of its own.
	PeerAddr string `toml:"peer_addr"`
}

// Cluster configures Scheduler membership and this process's own identity
// within it.
type Cluster struct {
	Nodes    []ClusterNode `toml:"nodes"`
	ThisName string        `toml:"self"`
}

// Transport configures the QUIC listener and its TLS material.
type Transport struct {
	ListenAddr        string   `toml:"listen_addr"`
	CertFile          string   `toml:"cert_file"`
	KeyFile           string   `toml:"key_file"`
	CAFile            string   `toml:"ca_file"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	KeepAliveInterval Duration `toml:"keep_alive_interval"`
	MaxConnections    int      `toml:"max_connections"`
}

// Seqnode configures one sequence-number node's shard layout and
// durability mode.
type Seqnode struct {
	BaseDir     string `toml:"base_dir"`
	ShardCount  int    `toml:"shard_count"`
	// Durability is "exactly" or "batched".
	Durability  string `toml:"durability"`
}

// Msglog configures the durable per-shard message log.
type Msglog struct {
	SocketPath    string   `toml:"socket_path"`
	Dir           string   `toml:"dir"`
	ShardCount    int      `toml:"shard_count"`
	RetentionDays int      `toml:"retention_days"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// MQ configures the message-queue plugin registry. Raw is forwarded
// verbatim to mq.Init, which dispatches each named entry to its
// registered handler (e.g. Kafka).
type MQ struct {
	Raw string `toml:"plugins"`
}

// Auth configures bearer-token issuance and verification.
type Auth struct {
	// HMACKeyHex is the signing key, hex-encoded because raw key bytes
	// don't round-trip cleanly through TOML.
	HMACKeyHex string   `toml:"hmac_key_hex"`
	Lifetime   Duration `toml:"lifetime"`
	Serial     uint16   `toml:"serial"`
}

// Relationship configures the SQL-backed friend/group DAOs.
type Relationship struct {
	DSN string `toml:"dsn"`
}

// Admin configures the admin HTTP surface and the external gRPC boundary
// colocated with the Scheduler.
type Admin struct {
	ListenAddr     string `toml:"listen_addr"`
	GRPCListenAddr string `toml:"grpc_listen_addr"`
}

// HintCache configures the Scheduler's sticky WhichNode hint store. Addr
// empty means fall back to an in-process map, suitable for a
// single-scheduler deployment or tests; production deployments with more
// than one scheduler replica set Addr to share hints through Redis.
type HintCache struct {
	Addr string   `toml:"addr"`
	TTL  Duration `toml:"ttl"`
}

// Config is the full configuration tree. Any one node binary reads only
// the sections it needs.
type Config struct {
	Cluster      Cluster      `toml:"cluster"`
	Transport    Transport    `toml:"transport"`
	Seqnode      Seqnode      `toml:"seqnode"`
	Msglog       Msglog       `toml:"msglog"`
	MQ           MQ           `toml:"mq"`
	Auth         Auth         `toml:"auth"`
	Relationship Relationship `toml:"relationship"`
	Admin        Admin        `toml:"admin"`
	HintCache    HintCache    `toml:"hint_cache"`
}

// Duration wraps time.Duration so it can be written as "5s"/"24h" in TOML
// instead of a raw nanosecond integer.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which BurntSushi/toml
// uses for any field type it doesn't know natively.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Self returns the ClusterNode whose Name matches cfg.Cluster.ThisName.
func (cfg *Config) Self() (ClusterNode, bool) {
	return cfg.NodeNamed(cfg.Cluster.ThisName)
}

// NodeNamed returns the ClusterNode with the given name.
func (cfg *Config) NodeNamed(name string) (ClusterNode, bool) {
	for _, n := range cfg.Cluster.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return ClusterNode{}, false
}

// NodesWithRole returns every ClusterNode whose Role matches, in file
// order, for binaries that dial out to every peer of a given kind (a
// message node dialing every other message node, for example).
func (cfg *Config) NodesWithRole(role string) []ClusterNode {
	var out []ClusterNode
	for _, n := range cfg.Cluster.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// Load reads and parses the TOML file at path, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides mirrors clusterInit's "a value from outside the file
// wins, but only if actually supplied" rule: each override is read from
// its environment variable and, if non-empty, replaces the value parsed
// from the file. An unset variable leaves the file's value untouched.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESH_CLUSTER_SELF"); v != "" {
		cfg.Cluster.ThisName = v
	}
	if v := os.Getenv("MESH_TRANSPORT_LISTEN_ADDR"); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := os.Getenv("MESH_SEQNODE_BASE_DIR"); v != "" {
		cfg.Seqnode.BaseDir = v
	}
	if v := os.Getenv("MESH_MSGLOG_SOCKET_PATH"); v != "" {
		cfg.Msglog.SocketPath = v
	}
	if v := os.Getenv("MESH_MSGLOG_DIR"); v != "" {
		cfg.Msglog.Dir = v
	}
	if v := os.Getenv("MESH_AUTH_HMAC_KEY_HEX"); v != "" {
		cfg.Auth.HMACKeyHex = v
	}
	if v := os.Getenv("MESH_RELATIONSHIP_DSN"); v != "" {
		cfg.Relationship.DSN = v
	}
	if v := os.Getenv("MESH_ADMIN_LISTEN_ADDR"); v != "" {
		cfg.Admin.ListenAddr = v
	}
}
