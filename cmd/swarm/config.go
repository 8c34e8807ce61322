package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/oriumgames/swarm"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the standalone runner.
type Config struct {
	// Address is the host:port of the target server.
	Address string `yaml:"address"`
	// Count is the number of bots to connect.
	Count int `yaml:"count"`
	// Delay bounds the random pause between two bots.
	Delay Window `yaml:"delay"`
	// RespawnDelay is the delay before dead bots respawn, negative to never
	// respawn.
	RespawnDelay time.Duration `yaml:"respawn_delay"`
	Gravity      bool          `yaml:"gravity"`
	// Ground is the height of the flat ground bots fall toward.
	Ground       float64  `yaml:"ground"`
	JoinMessages []string `yaml:"join_messages"`
	// Latency bounds the delay of liveness replies.
	Latency Window `yaml:"latency"`
	// Online logs bots in with a Microsoft account instead of offline.
	Online  bool          `yaml:"online"`
	Nicks   NickConfig    `yaml:"nicks"`
	Proxies ProxyConfig   `yaml:"proxies"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Window is a range of durations.
type Window struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// NickConfig configures the nickname source.
type NickConfig struct {
	// File holds one name per line. The built-in names are used if empty.
	File   string `yaml:"file"`
	Prefix string `yaml:"prefix"`
}

// ProxyConfig configures the proxies bots connect through.
type ProxyConfig struct {
	// File holds one host:port per line.
	File string `yaml:"file"`
	// Network is the network proxies are dialed over.
	Network string `yaml:"network"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Format is "json" or "text".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Listen is the address /metrics is served on. Disabled if empty.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the configuration used for settings missing from
// the configuration file.
func DefaultConfig() Config {
	return Config{
		Address: "127.0.0.1:19132",
		Count:   1,
		Delay:   Window{Min: 4 * time.Second, Max: 5 * time.Second},
		Gravity: true,
		Latency: Window{Min: 100 * time.Millisecond, Max: time.Second},
		Log:     LogConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig reads the configuration at path on top of DefaultConfig. An
// empty path returns DefaultConfig.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config file: %w", err)
	}
	return conf, conf.Validate()
}

// Validate checks the configuration for values the runner cannot work with.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must be set")
	}
	if c.Count < 1 {
		return fmt.Errorf("count must be > 0 (got %d)", c.Count)
	}
	if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
		return fmt.Errorf("delay window %s..%s is invalid", c.Delay.Min, c.Delay.Max)
	}
	if c.Latency.Min < 0 || c.Latency.Max < c.Latency.Min {
		return fmt.Errorf("latency window %s..%s is invalid", c.Latency.Min, c.Latency.Max)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log format %q is not json or text", c.Log.Format)
	}
	return nil
}

// Logger builds the logger described by the configuration.
func (c LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// LoadProxies reads the proxy file of the configuration. It returns no
// proxies if no file is configured.
func (c ProxyConfig) LoadProxies() ([]swarm.Proxy, error) {
	if c.File == "" {
		return nil, nil
	}
	f, err := os.Open(c.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()
	return readProxies(f, c.Network)
}

// readProxies reads one host:port per line. Blank lines and lines starting
// with # are skipped.
func readProxies(r io.Reader, network string) ([]swarm.Proxy, error) {
	var proxies []swarm.Proxy
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, err := net.SplitHostPort(line); err != nil {
			return nil, fmt.Errorf("proxy on line %d: %w", n, err)
		}
		proxies = append(proxies, swarm.Proxy{Network: network, Address: line})
	}
	return proxies, sc.Err()
}
