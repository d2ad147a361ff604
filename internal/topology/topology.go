package topology

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/exp/slices"
)

// Mode selects which address table a Topology resolves names against.
type Mode string

const (
	// ModeNetworked resolves stores by their container service names.
	ModeNetworked Mode = "networked"
	// ModeLocal resolves stores to loopback ports on the current host.
	ModeLocal Mode = "local"
)

// ParseMode maps the RUN_ENV convention onto a Mode: "local" (any case)
// selects the loopback table, everything else the networked one.
func ParseMode(runEnv string) Mode {
	if strings.EqualFold(strings.TrimSpace(runEnv), string(ModeLocal)) {
		return ModeLocal
	}
	return ModeNetworked
}

// Target is the physical location of one logical store.
type Target struct {
	// Name is the logical store name, e.g. "shard1" or "replica2".
	Name string `yaml:"-" json:"name"`
	// Host and Port address a networked relational store.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
	// Database is the database name on the server. Defaults to Name.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	// Path locates an embedded store file. Used instead of Host/Port by
	// file based drivers.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Addr is the human readable location of the target, used in logs.
func (t Target) Addr() string {
	if t.Host == "" && t.Path != "" {
		return t.Path
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Table maps logical store names to targets for one deployment mode.
type Table map[string]Target

// Pair maps a shard to the replica that mirrors it.
type Pair struct {
	Shard   string `yaml:"shard" json:"shard"`
	Replica string `yaml:"replica" json:"replica"`
}

func (p Pair) String() string {
	return p.Shard + "->" + p.Replica
}

// DefaultTables returns the address tables for the standard four store
// deployment.
func DefaultTables() map[Mode]Table {
	return map[Mode]Table{
		ModeNetworked: {
			"shard1":   {Host: "shard1-db", Port: 5432},
			"shard2":   {Host: "shard2-db", Port: 5432},
			"replica1": {Host: "replica1-db", Port: 5432},
			"replica2": {Host: "replica2-db", Port: 5432},
		},
		ModeLocal: {
			"shard1":   {Host: "localhost", Port: 5433},
			"shard2":   {Host: "localhost", Port: 5434},
			"replica1": {Host: "localhost", Port: 5436},
			"replica2": {Host: "localhost", Port: 5437},
		},
	}
}

// DefaultPairs returns the fixed shard1->replica1, shard2->replica2 mapping.
func DefaultPairs() []Pair {
	return []Pair{
		{Shard: "shard1", Replica: "replica1"},
		{Shard: "shard2", Replica: "replica2"},
	}
}

// Topology is the store locator. It is resolved once at startup and is
// immutable afterwards, so it is safe for concurrent use without locking.
type Topology struct {
	mode     Mode
	targets  map[string]Target
	pairs    []Pair
	shards   []string
	replicas []string
}

// New resolves the table for mode and validates the shard/replica pairs
// against it.
//
// Every pair must name stores present in the table, a shard may be paired
// once, a replica may mirror only one shard, and no store may act as both a
// shard and a replica.
func New(mode Mode, tables map[Mode]Table, pairs []Pair) (*Topology, error) {
	table, ok := tables[mode]
	if !ok || len(table) == 0 {
		return nil, errors.NotValidf("deployment mode %q without address table", mode)
	}
	if len(pairs) == 0 {
		return nil, errors.NotValidf("topology without shard/replica pairs")
	}

	t := &Topology{
		mode:    mode,
		targets: make(map[string]Target, len(table)),
	}
	for name, target := range table {
		target.Name = name
		if target.Database == "" {
			target.Database = name
		}
		t.targets[name] = target
	}

	role := make(map[string]string)
	for _, p := range pairs {
		if _, ok := t.targets[p.Shard]; !ok {
			return nil, errors.NotValidf("pair %s: shard %q not in %s table", p, p.Shard, mode)
		}
		if _, ok := t.targets[p.Replica]; !ok {
			return nil, errors.NotValidf("pair %s: replica %q not in %s table", p, p.Replica, mode)
		}
		if r, seen := role[p.Shard]; seen {
			return nil, errors.NotValidf("pair %s: %q already used as %s", p, p.Shard, r)
		}
		if r, seen := role[p.Replica]; seen {
			return nil, errors.NotValidf("pair %s: %q already used as %s", p, p.Replica, r)
		}
		role[p.Shard] = "shard"
		role[p.Replica] = "replica"
		t.pairs = append(t.pairs, p)
		t.shards = append(t.shards, p.Shard)
		t.replicas = append(t.replicas, p.Replica)
	}
	return t, nil
}

// Mode reports which table the topology was resolved from.
func (t *Topology) Mode() Mode {
	return t.mode
}

// Resolve returns the target for a logical store name. Asking for a name the
// topology does not know is a programming error and panics.
func (t *Topology) Resolve(name string) Target {
	target, ok := t.targets[name]
	if !ok {
		panic(fmt.Sprintf("topology: unknown store %q", name))
	}
	return target
}

// Pairs returns the shard/replica mapping in configuration order.
func (t *Topology) Pairs() []Pair {
	return slices.Clone(t.pairs)
}

// Shards returns the shard names in configuration order.
func (t *Topology) Shards() []string {
	return slices.Clone(t.shards)
}

// Replicas returns the replica names in configuration order.
func (t *Topology) Replicas() []string {
	return slices.Clone(t.replicas)
}

// IsShard reports whether name is a shard in this topology.
func (t *Topology) IsShard(name string) bool {
	return slices.Contains(t.shards, name)
}

// Targets returns every resolved target sorted by name.
func (t *Topology) Targets() []Target {
	out := make([]Target, 0, len(t.targets))
	for _, target := range t.targets {
		out = append(out, target)
	}
	slices.SortFunc(out, func(a, b Target) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
