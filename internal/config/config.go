// Package config loads the YAML configuration of the unitao servers.
//
// One file may configure both a data service and an inventory service;
// each server reads only its own section. Durations are Go duration
// strings ("250ms", "5s").
//
//	dataService:
//	  name: disks
//	  listen: :8001
//	  database: disks.db
//	  inventoryURL: http://localhost:8000
//	inventory:
//	  listen: :8000
//	  syncInterval: 30s
//	  stores:
//	    - name: disks
//	      url: http://localhost:8001
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/unitao/internal/cmtindex"
	"github.com/roach88/unitao/internal/federation"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses "5s"-style strings.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the whole configuration file.
type Config struct {
	DataService DataService `yaml:"dataService"`
	Inventory   Inventory   `yaml:"inventory"`
}

// DataService configures one data service.
type DataService struct {
	// Name labels logs and metrics. Default: "data".
	Name string `yaml:"name"`

	// Listen is the HTTP listen address. Default: ":8001".
	Listen string `yaml:"listen"`

	// Database is the SQLite file. Default: "unitao.db".
	Database string `yaml:"database"`

	// InventoryURL enables cross-store references, traversal and indexing.
	// Empty runs the store standalone.
	InventoryURL string `yaml:"inventoryURL,omitempty"`

	// HopTimeout bounds each remote fetch. Default: 5s.
	HopTimeout Duration `yaml:"hopTimeout"`

	// Index tunes the CmtIndex retry policy.
	Index Backoff `yaml:"index"`
}

// Backoff configures CmtIndex retries. Zero fields take the defaults of
// cmtindex.DefaultBackoff.
type Backoff struct {
	Initial  Duration `yaml:"initial"`
	Factor   float64  `yaml:"factor"`
	Max      Duration `yaml:"max"`
	Attempts int      `yaml:"attempts"`
}

// Policy returns the retry policy.
func (b Backoff) Policy() cmtindex.Backoff {
	return cmtindex.Backoff{
		Initial:  b.Initial.Std(),
		Factor:   b.Factor,
		Max:      b.Max.Std(),
		Attempts: b.Attempts,
	}
}

// Inventory configures the inventory service.
type Inventory struct {
	// Listen is the HTTP listen address. Default: ":8000".
	Listen string `yaml:"listen"`

	// Stores are merged in this order; the last declarer of a type wins.
	Stores []federation.Store `yaml:"stores"`

	// HopTimeout bounds each call to a store. Default: 5s.
	HopTimeout Duration `yaml:"hopTimeout"`

	// SyncInterval re-polls the stores periodically. Zero syncs only at
	// start and on POST /sync.
	SyncInterval Duration `yaml:"syncInterval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path and applies defaults. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	d := &c.DataService
	if d.Name == "" {
		d.Name = "data"
	}
	if d.Listen == "" {
		d.Listen = ":8001"
	}
	if d.Database == "" {
		d.Database = "unitao.db"
	}
	if d.HopTimeout == 0 {
		d.HopTimeout = Duration(federation.DefaultHopTimeout)
	}
	b, def := &d.Index, cmtindex.DefaultBackoff
	if b.Initial == 0 {
		b.Initial = Duration(def.Initial)
	}
	if b.Factor == 0 {
		b.Factor = def.Factor
	}
	if b.Max == 0 {
		b.Max = Duration(def.Max)
	}
	if b.Attempts == 0 {
		b.Attempts = def.Attempts
	}

	inv := &c.Inventory
	if inv.Listen == "" {
		inv.Listen = ":8000"
	}
	if inv.HopTimeout == 0 {
		inv.HopTimeout = Duration(federation.DefaultHopTimeout)
	}
}

// ValidateDataService checks the dataService section.
func (c *Config) ValidateDataService() error {
	d := c.DataService
	if d.InventoryURL != "" {
		if err := checkURL(d.InventoryURL); err != nil {
			return fmt.Errorf("dataService.inventoryURL: %w", err)
		}
	}
	if d.HopTimeout < 0 {
		return fmt.Errorf("dataService.hopTimeout must not be negative")
	}
	if d.Index.Factor < 1 {
		return fmt.Errorf("dataService.index.factor must be at least 1")
	}
	if d.Index.Attempts < 1 {
		return fmt.Errorf("dataService.index.attempts must be at least 1")
	}
	return nil
}

// ValidateInventory checks the inventory section.
func (c *Config) ValidateInventory() error {
	inv := c.Inventory
	if len(inv.Stores) == 0 {
		return fmt.Errorf("inventory.stores is required and must be non-empty")
	}
	seen := map[string]bool{}
	for i, st := range inv.Stores {
		if st.Name == "" {
			return fmt.Errorf("inventory.stores[%d].name is required", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("inventory.stores[%d]: duplicate store %q", i, st.Name)
		}
		seen[st.Name] = true
		if err := checkURL(st.URL); err != nil {
			return fmt.Errorf("inventory.stores[%d].url: %w", i, err)
		}
	}
	if inv.HopTimeout < 0 || inv.SyncInterval < 0 {
		return fmt.Errorf("inventory durations must not be negative")
	}
	return nil
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", s)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: host is required", s)
	}
	return nil
}
