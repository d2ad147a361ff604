// Package config loads shardsync configuration from a YAML file and the
// process environment.
//
// Load starts from Default, overlays the file, and then applies environment
// overrides, so a bare environment is enough to run the standard four store
// deployment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardsync/internal/logging"
	"github.com/dreamware/shardsync/internal/retry"
	"github.com/dreamware/shardsync/internal/storage"
	"github.com/dreamware/shardsync/internal/topology"
)

// Config is the complete process configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	Mode        topology.Mode     `yaml:"mode"`
	Store       StoreConfig       `yaml:"store"`
	Router      RouterConfig      `yaml:"router"`
	Replication ReplicationConfig `yaml:"replication"`
	Search      SearchConfig      `yaml:"search"`
	Log         logging.Config    `yaml:"log"`
}

// StoreConfig selects the relational driver and the address tables.
type StoreConfig struct {
	Driver         string                            `yaml:"driver"`
	User           string                            `yaml:"user"`
	Password       string                            `yaml:"password"`
	SSLMode        string                            `yaml:"sslmode"`
	Table          string                            `yaml:"table"`
	ConnectTimeout time.Duration                     `yaml:"connect_timeout"`
	Bootstrap      bool                              `yaml:"bootstrap"`
	Tables         map[topology.Mode]topology.Table `yaml:"tables"`
}

// RouterConfig holds the write placement policy.
type RouterConfig struct {
	Primary   string `yaml:"primary"`
	Overflow  string `yaml:"overflow"`
	Threshold int    `yaml:"threshold"`
}

// ReplicationConfig drives the replication daemon.
type ReplicationConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Pairs        []topology.Pair `yaml:"pairs"`
	Interval     time.Duration   `yaml:"interval"`
	DrainTimeout time.Duration   `yaml:"drain_timeout"`
}

// SearchConfig points at the search engine.
type SearchConfig struct {
	URL      string        `yaml:"url"`
	Index    string        `yaml:"index"`
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	// Backoff doubles Delay after each failed attempt, up to MaxDelay when
	// that is set.
	Backoff  bool          `yaml:"backoff"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetryPolicy is the policy used for indexing and the startup ping.
func (s SearchConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: s.Attempts,
		Delay:    s.Delay,
		Backoff:  s.Backoff,
		MaxDelay: s.MaxDelay,
	}
}

// Default returns the configuration of the standard deployment: two shards
// split at five records, each mirrored every ten seconds.
func Default() Config {
	return Config{
		Listen: ":5000",
		Mode:   topology.ModeNetworked,
		Store: StoreConfig{
			Driver:         storage.DriverPostgres,
			User:           "user",
			Password:       "pass",
			SSLMode:        "disable",
			Table:          storage.DefaultTable,
			ConnectTimeout: 3 * time.Second,
			Tables:         topology.DefaultTables(),
		},
		Router: RouterConfig{
			Primary:   "shard1",
			Overflow:  "shard2",
			Threshold: 5,
		},
		Replication: ReplicationConfig{
			Enabled:      true,
			Pairs:        topology.DefaultPairs(),
			Interval:     10 * time.Second,
			DrainTimeout: 5 * time.Second,
		},
		Search: SearchConfig{
			Index:    "records",
			Attempts: 5,
			Delay:    2 * time.Second,
			Timeout:  5 * time.Second,
		},
		Log: logging.Config{Level: "info", Format: logging.FormatJSON},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotate(err, "reading config")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parsing %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	if v := get("RUN_ENV"); v != "" {
		c.Mode = topology.ParseMode(v)
	}
	setString(&c.Listen, get("LISTEN_ADDR"))
	setString(&c.Store.Driver, get("STORE_DRIVER"))
	setString(&c.Store.User, get("DB_USER"))
	setString(&c.Store.Password, get("DB_PASSWORD"))
	setString(&c.Search.URL, get("SEARCH_URL"))
	setString(&c.Search.Index, get("SEARCH_INDEX"))
	setString(&c.Log.Level, get("LOG_LEVEL"))
	setString(&c.Log.Format, get("LOG_FORMAT"))

	if v := get("SHARD_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NotValidf("SHARD_THRESHOLD %q", v)
		}
		c.Router.Threshold = n
	}
	if v := get("REPLICATION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NotValidf("REPLICATION_INTERVAL %q", v)
		}
		c.Replication.Interval = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// SearchURL returns the configured engine URL, or the conventional address
// for the deployment mode.
func (c Config) SearchURL() string {
	if c.Search.URL != "" {
		return c.Search.URL
	}
	if c.Mode == topology.ModeLocal {
		return "http://localhost:9200"
	}
	return "http://elasticsearch:9200"
}

// Validate checks the configuration and the topology it describes.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.NotValidf("empty listen address")
	}
	switch c.Store.Driver {
	case storage.DriverPostgres, storage.DriverSQLite, storage.DriverMemory:
	default:
		return errors.NotValidf("store driver %q", c.Store.Driver)
	}
	if !storage.ValidTable(c.Store.Table) {
		return errors.NotValidf("table name %q", c.Store.Table)
	}
	if c.Router.Threshold < 0 {
		return errors.NotValidf("negative shard threshold %d", c.Router.Threshold)
	}
	if c.Router.Primary == "" || c.Router.Overflow == "" || c.Router.Primary == c.Router.Overflow {
		return errors.NotValidf("router shards %q/%q", c.Router.Primary, c.Router.Overflow)
	}
	if c.Replication.Interval <= 0 {
		return errors.NotValidf("replication interval %v", c.Replication.Interval)
	}
	if c.Replication.DrainTimeout < 0 {
		return errors.NotValidf("negative drain timeout")
	}
	if c.Search.Attempts < 1 {
		return errors.NotValidf("search attempts %d", c.Search.Attempts)
	}
	if c.Search.Delay < 0 || c.Search.MaxDelay < 0 {
		return errors.NotValidf("negative search retry delay")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.Trace(err)
	}

	topo, err := c.Topology()
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range []string{c.Router.Primary, c.Router.Overflow} {
		if !topo.IsShard(name) {
			return errors.NotValidf("router shard %q not in topology", name)
		}
	}
	return nil
}

// Topology builds the store locator for the configured mode.
func (c Config) Topology() (*topology.Topology, error) {
	topo, err := topology.New(c.Mode, c.Store.Tables, c.Replication.Pairs)
	if err != nil {
		return nil, errors.Annotate(err, "building topology")
	}
	return topo, nil
}

// Connector returns the store connector for the configured driver.
func (c Config) Connector() (storage.Connector, error) {
	switch c.Store.Driver {
	case storage.DriverMemory:
		var names []string
		for name := range c.Store.Tables[c.Mode] {
			names = append(names, name)
		}
		return storage.NewMemoryConnector(names...), nil
	case storage.DriverPostgres, storage.DriverSQLite:
		return &storage.SQLConnector{
			Driver:         c.Store.Driver,
			User:           c.Store.User,
			Password:       c.Store.Password,
			SSLMode:        c.Store.SSLMode,
			Table:          c.Store.Table,
			ConnectTimeout: c.Store.ConnectTimeout,
			Bootstrap:      c.Store.Bootstrap || c.Store.Driver == storage.DriverSQLite,
		}, nil
	}
	return nil, errors.NotSupportedf("store driver %q", c.Store.Driver)
}
