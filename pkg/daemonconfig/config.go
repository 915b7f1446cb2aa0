// Package daemonconfig loads the daemon's own bootstrap configuration: log
// level, which data stores to register with the Data Manager, and which
// transport endpoints to open. It is deliberately separate from the data
// stores it describes (pkg/store) and from the model schemas those stores
// validate against (pkg/model) — this package only gets the process running,
// it does not hold any of the data the process manages.
package daemonconfig

import (
	"fmt"
	"os"

	"github.com/freedm/core/pkg/log"
	"gopkg.in/yaml.v3"
)

// StoreBackend names a pkg/store/*store implementation.
type StoreBackend string

const (
	BackendINI    StoreBackend = "ini"
	BackendMemory StoreBackend = "memory"
	BackendSQL    StoreBackend = "sql"
	BackendBolt   StoreBackend = "bolt"
)

// StoreConfig describes one data store to register with the Data Manager.
type StoreConfig struct {
	Alias              string       `yaml:"alias"`
	Backend            StoreBackend `yaml:"backend"`
	Path               string       `yaml:"path,omitempty"`
	Filetype           string       `yaml:"filetype,omitempty"`
	Persistent         bool         `yaml:"persistent"`
	Writable           bool         `yaml:"writable"`
	Synced             bool         `yaml:"synced"`
	SyncParallel       bool         `yaml:"sync_parallel"`
	SyncMaxConcurrency int          `yaml:"sync_max_concurrency,omitempty"`
	ModelFile          string       `yaml:"model_file,omitempty"`
}

// EndpointKind selects the socket family an endpoint listens on.
type EndpointKind string

const (
	EndpointUXD EndpointKind = "uxd"
	EndpointTCP EndpointKind = "tcp"
)

// FramingMode mirrors transport.Framing without importing it, so this
// package stays free of the socket stack and can be unmarshaled standalone.
type FramingMode string

const (
	FramingBulk    FramingMode = "bulk"
	FramingLine    FramingMode = "line"
	FramingChunked FramingMode = "chunked"
)

// AddressFamily mirrors transport/server.AddressFamily for TCP endpoints.
type AddressFamily string

const (
	AddressAuto AddressFamily = "auto"
	AddressIPv4 AddressFamily = "ipv4"
	AddressIPv6 AddressFamily = "ipv6"
	AddressDual AddressFamily = "dual"
)

// EndpointConfig describes one transport endpoint to open at startup.
type EndpointConfig struct {
	Name      string        `yaml:"name"`
	Kind      EndpointKind  `yaml:"kind"`
	Path      string        `yaml:"path,omitempty"`
	Host      string        `yaml:"host,omitempty"`
	Port      int           `yaml:"port,omitempty"`
	Family    AddressFamily `yaml:"family,omitempty"`
	Framing   FramingMode   `yaml:"framing"`
	Separator string        `yaml:"separator,omitempty"`
	ChunkSize int           `yaml:"chunk_size,omitempty"`
	Limit     int           `yaml:"limit,omitempty"`
	PoolMax   int           `yaml:"pool_max,omitempty"`
	UserOnly  bool          `yaml:"user_only,omitempty"`
	GroupOnly bool          `yaml:"group_only,omitempty"`
	TLS       *TLSConfig    `yaml:"tls,omitempty"`
}

// TLSConfig names the certificate material an endpoint should load.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file,omitempty"`
	ClientAuth bool   `yaml:"client_auth,omitempty"`
}

// Config is the daemon's top-level bootstrap configuration.
type Config struct {
	LogLevel    log.Level        `yaml:"log_level"`
	LogJSON     bool             `yaml:"log_json"`
	MetricsAddr string           `yaml:"metrics_addr,omitempty"`
	Stores      []StoreConfig    `yaml:"stores"`
	Endpoints   []EndpointConfig `yaml:"endpoints"`
}

// Default returns a Config with sensible defaults, mirroring how
// log.Config falls back to info-level console output when unset.
func Default() Config {
	return Config{
		LogLevel:    log.InfoLevel,
		LogJSON:     false,
		MetricsAddr: ":9090",
	}
}

// Load reads and parses a YAML daemon configuration file from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading daemon config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals raw YAML bytes into a Config, layering them over Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing daemon config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for structurally invalid entries: duplicate
// store aliases, duplicate endpoint names, and endpoints/stores missing the
// fields their kind requires. It does not touch the filesystem or network.
func (c Config) Validate() error {
	seenStores := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Alias == "" {
			return fmt.Errorf("store config missing alias")
		}
		if seenStores[s.Alias] {
			return fmt.Errorf("duplicate store alias %q", s.Alias)
		}
		seenStores[s.Alias] = true

		switch s.Backend {
		case BackendINI, BackendSQL, BackendBolt:
			if s.Path == "" {
				return fmt.Errorf("store %q: backend %q requires a path", s.Alias, s.Backend)
			}
		case BackendMemory:
			// no path needed
		default:
			return fmt.Errorf("store %q: unknown backend %q", s.Alias, s.Backend)
		}
	}

	seenEndpoints := make(map[string]bool, len(c.Endpoints))
	for _, e := range c.Endpoints {
		if e.Name == "" {
			return fmt.Errorf("endpoint config missing name")
		}
		if seenEndpoints[e.Name] {
			return fmt.Errorf("duplicate endpoint name %q", e.Name)
		}
		seenEndpoints[e.Name] = true

		switch e.Kind {
		case EndpointUXD:
			if e.Path == "" {
				return fmt.Errorf("endpoint %q: uxd kind requires a path", e.Name)
			}
		case EndpointTCP:
			if e.Port == 0 {
				return fmt.Errorf("endpoint %q: tcp kind requires a port", e.Name)
			}
		default:
			return fmt.Errorf("endpoint %q: unknown kind %q", e.Name, e.Kind)
		}

		switch e.Framing {
		case FramingBulk, FramingLine, FramingChunked:
		default:
			return fmt.Errorf("endpoint %q: unknown framing %q", e.Name, e.Framing)
		}
	}

	return nil
}
