package runtime

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/zeebo/errs"
)

// ConfigError wraps configuration failures.
var ConfigError = errs.Class("config")

// Default locations under the data path.
const (
	DefaultDataPath = "./schemat"
	ConfigFileName  = "config.yaml"
	NodeIDFileName  = "node.id"
	WorkerIDEnv     = "WORKER_ID"
)

// Duration parses "10s"-style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"'`)
	v, err := time.ParseDuration(s)
	if err != nil {
		return ConfigError.Wrap(err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// RingConfig describes one storage ring, bottom of the stack first.
type RingConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // "memory" or "sqlite"
	File      string `yaml:"file"`
	ReadOnly  bool   `yaml:"readonly"`
	Bootstrap bool   `yaml:"bootstrap"`
	StartID   int64  `yaml:"start_id"`
}

// KafkaConfig configures the cluster bus. An empty broker list selects
// the in-process loopback bus.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
}

// Config is the process configuration, loaded from
// <data path>/config.yaml.
type Config struct {
	Cluster         string       `yaml:"cluster"`
	Node            int64        `yaml:"node"`
	DataPath        string       `yaml:"data_path"`
	RefreshInterval Duration     `yaml:"refresh_interval"`
	RequestTimeout  Duration     `yaml:"request_timeout"`
	CacheTTL        Duration     `yaml:"cache_ttl"`
	Kafka           KafkaConfig  `yaml:"kafka"`
	Rings           []RingConfig `yaml:"rings"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DefaultDataPath, ConfigFileName)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigError.Wrap(err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, ConfigError.Wrap(err)
	}
	cfg.applyDefaults()
	if len(cfg.Rings) == 0 {
		return nil, ConfigError.New("at least one ring is required")
	}
	for _, ring := range cfg.Rings {
		switch ring.Type {
		case "memory", "sqlite":
		default:
			return nil, ConfigError.New("ring %q has unknown type %q", ring.Name, ring.Type)
		}
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.DataPath == "" {
		cfg.DataPath = DefaultDataPath
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = Duration(10 * time.Second)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = Duration(time.Minute)
	}
}

// WorkerID reads this process's worker number from the environment; the
// master process is worker 0.
func WorkerID() (int, error) {
	raw := os.Getenv(WorkerIDEnv)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, ConfigError.New("invalid %s %q", WorkerIDEnv, raw)
	}
	return id, nil
}

// NodeID resolves the id of this process's node object: the config
// value when set, otherwise the persisted node.id file.
func (cfg *Config) NodeID() (int64, error) {
	if cfg.Node > 0 {
		return cfg.Node, nil
	}
	raw, err := os.ReadFile(filepath.Join(cfg.DataPath, NodeIDFileName))
	if err != nil {
		return 0, ConfigError.New("node id is neither configured nor persisted: %v", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || id <= 0 {
		return 0, ConfigError.New("malformed node id file")
	}
	return id, nil
}

// SaveNodeID persists the node id next to the configuration.
func (cfg *Config) SaveNodeID(id int64) error {
	path := filepath.Join(cfg.DataPath, NodeIDFileName)
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return ConfigError.Wrap(err)
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(id, 10)+"\n"), 0o644); err != nil {
		return ConfigError.Wrap(err)
	}
	return nil
}
