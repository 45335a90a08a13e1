package node

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/glomers/pkg/log"
)

type GossipConfig struct {
	// Interval is the rate to push the known values to each neighbor.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

func (c *GossipConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("missing interval")
	}
	return nil
}

func (c *GossipConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(
		&c.Interval,
		"gossip.interval",
		time.Millisecond*500,
		`
The interval to push the nodes known values to each of its neighbors.

Each round sends the full set of known values to every neighbor in the
nodes topology.`,
	)
}

type DispatchConfig struct {
	// MaxConcurrency is the maximum number of frames handled concurrently.
	// Zero means unbounded, where each frame is handled in its own goroutine.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// MaxFrameSize is the maximum size of an inbound frame in bytes.
	MaxFrameSize int `json:"max_frame_size" yaml:"max_frame_size"`
}

func (c *DispatchConfig) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("invalid max concurrency: %d", c.MaxConcurrency)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("missing max frame size")
	}
	return nil
}

func (c *DispatchConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.MaxConcurrency,
		"dispatch.max-concurrency",
		0,
		`
The maximum number of inbound messages to handle concurrently.

By default each inbound message is handled in its own goroutine. Setting
a limit blocks reading further messages until a handler completes.`,
	)
	fs.IntVar(
		&c.MaxFrameSize,
		"dispatch.max-frame-size",
		4*1024*1024,
		`
The maximum size of an inbound message in bytes.

Receiving a larger message is a fatal error.`,
	)
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP
	// connections. If empty the admin server is disabled.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		"",
		`
The host/port to listen for incoming admin connections, which exposes
metrics and the nodes status.

The admin server is disabled by default, since the node communicates
only via stdin and stdout. Such as '--admin.bind-addr :8002' will listen on
'0.0.0.0:8002'.`,
	)
}

type Config struct {
	Gossip   GossipConfig   `json:"gossip" yaml:"gossip"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Admin    AdminConfig    `json:"admin" yaml:"admin"`
	Log      log.Config     `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the admin server.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() *Config {
	return &Config{
		Gossip: GossipConfig{
			Interval: time.Millisecond * 500,
		},
		Dispatch: DispatchConfig{
			MaxFrameSize: 4 * 1024 * 1024,
		},
		Log: log.Config{
			Level:  "info",
			Output: "stderr",
		},
		GracePeriod: time.Second * 5,
	}
}

func (c *Config) Validate() error {
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}

	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Gossip.RegisterFlags(fs)
	c.Dispatch.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		time.Second*5,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the admin server.`,
	)
}
