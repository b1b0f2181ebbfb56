// Package config defines the subgraphd runtime's configuration shape,
// loaded by internal/config's format-sniffing loader from a single
// YAML/JSON/TOML file plus environment overrides (spec.md §6).
package config

import (
	"fmt"
	"time"

	"github.com/goran-ethernal/subgraphd/internal/common"
)

const defaultMaintenanceInterval = 1 * time.Hour

// Config is the complete configuration for one subgraphd process.
type Config struct {
	// Chain identifies the chain variant. Ethereum is the only implemented
	// variant (spec.md §6).
	Chain string `yaml:"chain" json:"chain" toml:"chain"`

	Subgraph SubgraphConfig `yaml:"subgraph" json:"subgraph" toml:"subgraph"`

	// ReorgThreshold is the Inspector's window depth; must be positive.
	ReorgThreshold int `yaml:"reorg_threshold" json:"reorg_threshold" toml:"reorg_threshold"`

	Backend BackendConfig `yaml:"backend" json:"backend" toml:"backend"`

	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance" toml:"maintenance"`

	Logging LogConfig `yaml:"logging" json:"logging" toml:"logging"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// MaintenanceConfig drives internal/db.MaintenanceCoordinator, which runs
// WAL checkpoints and VACUUMs on the External Store's SQLite file. It runs
// no snapshot pruning.
type MaintenanceConfig struct {
	Enabled           bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	VacuumOnStartup   bool            `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	CheckInterval     common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	WALCheckpointMode string          `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
	// SnapshotRetention is parsed from the config file but not read by any
	// component; no code prunes entity versions on a schedule.
	SnapshotRetention int `yaml:"snapshot_retention" json:"snapshot_retention" toml:"snapshot_retention"`
}

func (m *MaintenanceConfig) applyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(defaultMaintenanceInterval)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// SubgraphConfig describes the subgraph being indexed: its manifest, its
// optional pre-handler transform guest module, and its data source.
type SubgraphConfig struct {
	// Name is a unique identifier for this subgraph.
	Name string `yaml:"name" json:"name" toml:"name"`

	// ID defaults to Name when empty.
	ID string `yaml:"id" json:"id" toml:"id"`

	// Manifest is the location of the subgraph manifest describing
	// datasources.
	Manifest string `yaml:"manifest" json:"manifest" toml:"manifest"`

	// Schema is the location of the entity schema definition file.
	Schema string `yaml:"schema" json:"schema" toml:"schema"`

	// Transform names a guest program used for pre-handler data shaping.
	// If set, TransformWasm must also be set.
	Transform string `yaml:"transform" json:"transform" toml:"transform"`

	// TransformWasm is the path to the transform's compiled wasm module.
	TransformWasm string `yaml:"transform_wasm" json:"transform_wasm" toml:"transform_wasm"`

	Source SourceConfig `yaml:"source" json:"source" toml:"source"`
}

// SourceConfig selects one of the three source variants named in spec.md
// §6: ReadLine, ReadDir, or Nats.
type SourceConfig struct {
	// Kind is one of "read_line", "read_dir", "nats".
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// SourceDir is required when Kind is "read_dir".
	SourceDir string `yaml:"source_dir" json:"source_dir" toml:"source_dir"`

	Nats NatsSourceConfig `yaml:"nats" json:"nats" toml:"nats"`
}

// NatsSourceConfig is required when SourceConfig.Kind is "nats".
type NatsSourceConfig struct {
	URI         string `yaml:"uri" json:"uri" toml:"uri"`
	Subject     string `yaml:"subject" json:"subject" toml:"subject"`
	ContentType string `yaml:"content_type" json:"content_type" toml:"content_type"`
}

// BackendConfig is the External Store's backend URI, keyspace, and the
// SQLite connection pragmas used to implement it (spec.md §6, §E).
type BackendConfig struct {
	URI      string `yaml:"uri" json:"uri" toml:"uri"`
	Keyspace string `yaml:"keyspace" json:"keyspace" toml:"keyspace"`

	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// DatabaseConfig represents SQLite connection configuration, unchanged from
// the teacher's downloader/indexer DB blocks.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages).
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// LogConfig configures internal/logger. It implements logger.LoggingConfig
// structurally, without pkg/config importing internal/logger.
type LogConfig struct {
	DefaultLevel    string            `yaml:"default_level" json:"default_level" toml:"default_level"`
	Development     bool              `yaml:"development" json:"development" toml:"development"`
	ComponentLevels map[string]string `yaml:"component_levels" json:"component_levels" toml:"component_levels"`
}

func (l *LogConfig) GetComponentLevel(component string) string {
	if l.ComponentLevels == nil {
		return ""
	}
	return l.ComponentLevels[component]
}

func (l *LogConfig) GetDefaultLevel() string {
	return l.DefaultLevel
}

func (l *LogConfig) IsDevelopment() bool {
	return l.Development
}

func (l *LogConfig) applyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
}

// MetricsConfig configures internal/metrics.Server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

func (m *MetricsConfig) applyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Subgraph.ID == "" {
		c.Subgraph.ID = c.Subgraph.Name
	}
	if c.Subgraph.Source.Kind == "" {
		c.Subgraph.Source.Kind = "read_line"
	}
	if c.ReorgThreshold == 0 {
		c.ReorgThreshold = 200
	}

	c.Backend.DB.ApplyDefaults()
	c.Maintenance.applyDefaults()
	c.Logging.applyDefaults()
	c.Metrics.applyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if c.Chain != "ethereum" {
		return fmt.Errorf("chain must be 'ethereum' (only implemented variant)")
	}

	if c.Subgraph.Name == "" {
		return fmt.Errorf("subgraph.name is required")
	}
	if c.Subgraph.Manifest == "" {
		return fmt.Errorf("subgraph.manifest is required")
	}
	if c.Subgraph.Schema == "" {
		return fmt.Errorf("subgraph.schema is required")
	}
	if c.Subgraph.Transform != "" && c.Subgraph.TransformWasm == "" {
		return fmt.Errorf("subgraph.transform_wasm is required when subgraph.transform is set")
	}

	switch c.Subgraph.Source.Kind {
	case "read_line":
	case "read_dir":
		if c.Subgraph.Source.SourceDir == "" {
			return fmt.Errorf("subgraph.source.source_dir is required when source.kind is 'read_dir'")
		}
	case "nats":
		if c.Subgraph.Source.Nats.URI == "" {
			return fmt.Errorf("subgraph.source.nats.uri is required when source.kind is 'nats'")
		}
		if c.Subgraph.Source.Nats.Subject == "" {
			return fmt.Errorf("subgraph.source.nats.subject is required when source.kind is 'nats'")
		}
	default:
		return fmt.Errorf("subgraph.source.kind must be one of: read_line, read_dir, nats")
	}

	if c.ReorgThreshold <= 0 {
		return fmt.Errorf("reorg_threshold must be a positive integer")
	}

	if c.Backend.URI == "" {
		return fmt.Errorf("backend.uri is required")
	}
	if c.Backend.Keyspace == "" {
		return fmt.Errorf("backend.keyspace is required")
	}
	if c.Backend.DB.Path == "" {
		return fmt.Errorf("backend.db.path is required")
	}

	if c.Backend.DB.JournalMode != "" && c.Backend.DB.JournalMode != "WAL" &&
		c.Backend.DB.JournalMode != "DELETE" && c.Backend.DB.JournalMode != "TRUNCATE" &&
		c.Backend.DB.JournalMode != "PERSIST" && c.Backend.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("backend.db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.Backend.DB.Synchronous != "" && c.Backend.DB.Synchronous != "FULL" &&
		c.Backend.DB.Synchronous != "NORMAL" && c.Backend.DB.Synchronous != "OFF" {
		return fmt.Errorf("backend.db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}
