// Package config loads the actor system's runtime configuration from a
// file, environment variables, and command-line flags, in that order of
// increasing precedence, the way the teacher's cmd.serverCmd wires a
// "config_file" flag into config.LoadConfig.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config bundles every runtime knob the composition root needs to build
// the actor system, the Endpoint Manager, and the Gossip Layer. Field
// names and defaults are named directly after the spec sections that
// introduce each knob.
type Config struct {
	// System is the local actor system's address (spec.md §4.A), e.g.
	// "localhost:12000", or a ClientPrefix-addressed identity for a
	// client-only process.
	System string `mapstructure:"system"`

	// MailboxThroughput is the per-dispatch message budget read from
	// configuration. The composition root does not pass it to the actor
	// system: actors take their throughput from Props.MailboxThroughput or
	// from their dispatcher.
	MailboxThroughput int `mapstructure:"mailbox_throughput"`

	Remote  RemoteConfig  `mapstructure:"remote"`
	Cluster ClusterConfig `mapstructure:"cluster"`
}

// RemoteConfig configures the Endpoint Manager (spec.md §4.F).
type RemoteConfig struct {
	WaitAfterEndpointTermination time.Duration `mapstructure:"wait_after_endpoint_termination"`
	BlocklistEvictionInterval    time.Duration `mapstructure:"blocklist_eviction_interval"`
	BlocklistMaxAge              time.Duration `mapstructure:"blocklist_max_age"`
	StopTimeout                  time.Duration `mapstructure:"stop_timeout"`
}

// ClusterConfig configures the Gossip Layer and seed discovery (spec.md
// §4.H, §4.I).
type ClusterConfig struct {
	MemberID       string        `mapstructure:"member_id"`
	BindAddr       string        `mapstructure:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port"`
	AdvertiseAddr  string        `mapstructure:"advertise_addr"`
	AdvertisePort  int           `mapstructure:"advertise_port"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	GossipFanout   int           `mapstructure:"gossip_fanout"`
	Kinds          []string      `mapstructure:"kinds"`

	// SeedAddresses is consumed by a StaticSeedDiscovery when non-empty;
	// SeedFile, if set, switches to a FileSeedDiscovery, read by Discover at
	// startup; the composition root does not start its Watch.
	SeedAddresses []string `mapstructure:"seed_addresses"`
	SeedFile      string   `mapstructure:"seed_file"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("system", "localhost:12000")
	v.SetDefault("mailbox_throughput", 300)
	v.SetDefault("remote.wait_after_endpoint_termination", 2*time.Second)
	v.SetDefault("remote.blocklist_eviction_interval", time.Minute)
	v.SetDefault("remote.blocklist_max_age", 10*time.Minute)
	v.SetDefault("remote.stop_timeout", 10*time.Second)
	v.SetDefault("cluster.bind_addr", "0.0.0.0")
	v.SetDefault("cluster.bind_port", 7946)
	v.SetDefault("cluster.gossip_interval", 200*time.Millisecond)
	v.SetDefault("cluster.gossip_fanout", 3)
}

// LoadConfig reads configuration from (in increasing precedence) defaults,
// an optional config file, environment variables prefixed ACTOR_, and CLI
// flags bound via BindFlags. A nil flags is valid — callers that don't run
// through the CLI (tests, embedding) can pass nil to skip that layer.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("ACTOR")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Flags declares the CLI flags LoadConfig's flags parameter expects,
// mirroring the teacher's serverCmd's "config_file" flag for the knobs
// worth overriding ad hoc at the command line rather than only via file
// or environment.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("actor-core", pflag.ContinueOnError)
	fs.String("system", "", "local actor system address (host:port)")
	fs.String("cluster.bind_addr", "", "gossip bind address")
	fs.Int("cluster.bind_port", 0, "gossip bind port")
	fs.StringSlice("cluster.seed_addresses", nil, "static seed peer addresses")
	return fs
}
