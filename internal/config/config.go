// Package config loads the YAML job description shared by every process of
// a training job, with per-process overrides from the environment.
//
// One file describes the whole job: cluster shape, consistency protocol,
// table shape and training hyperparameters. The per-process settings
// (node id and addresses) normally come from the environment so the same
// file can be shipped to every host.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/graphps/internal/cluster"
	"github.com/dreamware/graphps/internal/consistency"
	"github.com/dreamware/graphps/internal/shard"
)

// Config is the full job description.
type Config struct {
	Node    Node              `yaml:"node"`
	Cluster Cluster           `yaml:"cluster"`
	Table   Table             `yaml:"table"`
	Train   Train             `yaml:"train"`
	Log     Log               `yaml:"log"`
	Roles   map[string]string `yaml:"roles"` // hostname -> default|server|worker
}

// Node identifies this process.
type Node struct {
	ID          string `yaml:"id"`
	Listen      string `yaml:"listen"`      // Listen address, e.g. ":8081"
	Addr        string `yaml:"addr"`        // Public base URL registered with the coordinator
	Coordinator string `yaml:"coordinator"` // Coordinator base URL
}

// Cluster is the fixed shape of the job.
type Cluster struct {
	Servers   int                  `yaml:"num_servers"`
	Workers   int                  `yaml:"num_workers"`
	Protocol  consistency.Protocol `yaml:"protocol"`
	Staleness int                  `yaml:"staleness"`
}

// Table is the embedding table shape and initialisation.
type Table struct {
	Layout        shard.Layout `yaml:"layout"`
	Rows          int          `yaml:"rows"`
	Cols          int          `yaml:"cols"`
	InitMin       float32      `yaml:"init_min"`
	InitMax       float32      `yaml:"init_max"`
	ServerThreads int          `yaml:"server_threads"`
	Seed          int64        `yaml:"seed"`
}

// Train holds the worker's inputs and hyperparameters.
type Train struct {
	GraphPartFile     string  `yaml:"graph_part_file"`
	DictFile          string  `yaml:"dict_file"`
	OutputFile        string  `yaml:"output_file"`
	NegativeNum       int     `yaml:"negative_num"`
	SampleEdges       int64   `yaml:"sample_edges"` // Across all workers
	BlockNumEdges     int     `yaml:"block_num_edges"`
	LearningRate      float32 `yaml:"learning_rate"`
	DisplayIter       int     `yaml:"display_iter"`
	QueueDepth        int     `yaml:"queue_depth"`
	PreprocessThreads int     `yaml:"preprocess_threads"`
	Seed              int64   `yaml:"seed"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Node: Node{
			Listen: ":8081",
			Addr:   "http://127.0.0.1:8081",
		},
		Cluster: Cluster{
			Servers:   1,
			Workers:   1,
			Protocol:  consistency.ProtocolAsync,
			Staleness: 1,
		},
		Table: Table{
			Layout:        shard.LayoutColumn,
			Rows:          1000000,
			Cols:          100,
			ServerThreads: 1,
		},
		Train: Train{
			NegativeNum:       5,
			SampleEdges:       1000000,
			BlockNumEdges:     100000,
			LearningRate:      0.025,
			DisplayIter:       1,
			QueueDepth:        2,
			PreprocessThreads: 1,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields the defaults plus the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.fillInitRange()
	return cfg, nil
}

// applyEnv overrides per-process settings from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("NODE_ID", &c.Node.ID)
	set("NODE_LISTEN", &c.Node.Listen)
	set("NODE_ADDR", &c.Node.Addr)
	set("COORDINATOR_ADDR", &c.Node.Coordinator)

	var protocol string
	set("GRAPHPS_PROTOCOL", &protocol)
	if protocol != "" {
		c.Cluster.Protocol = consistency.Protocol(protocol)
	}
}

// fillInitRange applies the default uniform fill of ±0.5/cols when the
// file leaves both bounds at zero.
func (c *Config) fillInitRange() {
	if c.Table.InitMin == 0 && c.Table.InitMax == 0 && c.Table.Cols > 0 {
		c.Table.InitMin = -0.5 / float32(c.Table.Cols)
		c.Table.InitMax = 0.5 / float32(c.Table.Cols)
	}
}

// Validate reports every inconsistency in the job description at once.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Cluster.Servers <= 0 {
		fail("cluster.num_servers must be positive, got %d", c.Cluster.Servers)
	}
	if c.Cluster.Workers <= 0 {
		fail("cluster.num_workers must be positive, got %d", c.Cluster.Workers)
	}
	if _, err := consistency.ParseProtocol(string(c.Cluster.Protocol)); err != nil {
		fail("cluster.protocol: %w", err)
	}
	if c.Cluster.Protocol == consistency.ProtocolBounded && c.Cluster.Staleness < 1 {
		fail("cluster.staleness must be at least 1 for the bounded protocol, got %d", c.Cluster.Staleness)
	}

	switch c.Table.Layout {
	case shard.LayoutRow:
		if c.Table.Rows < c.Cluster.Servers {
			fail("table.rows %d cannot be split across %d servers", c.Table.Rows, c.Cluster.Servers)
		}
	case shard.LayoutColumn:
		if c.Table.Cols < c.Cluster.Servers {
			fail("table.cols %d cannot be split across %d servers", c.Table.Cols, c.Cluster.Servers)
		}
	default:
		fail("table.layout must be row or column, got %q", c.Table.Layout)
	}
	if c.Table.Rows <= 0 || c.Table.Cols <= 0 {
		fail("table shape %dx%d must be positive", c.Table.Rows, c.Table.Cols)
	}
	if c.Table.InitMax < c.Table.InitMin {
		fail("table init range [%v, %v) is empty", c.Table.InitMin, c.Table.InitMax)
	}

	if c.Train.NegativeNum < 0 {
		fail("train.negative_num must not be negative, got %d", c.Train.NegativeNum)
	}
	if c.Train.SampleEdges <= 0 {
		fail("train.sample_edges must be positive, got %d", c.Train.SampleEdges)
	}
	if c.Train.BlockNumEdges <= 0 {
		fail("train.block_num_edges must be positive, got %d", c.Train.BlockNumEdges)
	}
	if c.Train.LearningRate <= 0 {
		fail("train.learning_rate must be positive, got %v", c.Train.LearningRate)
	}
	if c.Train.QueueDepth <= 0 {
		fail("train.queue_depth must be positive, got %d", c.Train.QueueDepth)
	}

	for host, role := range c.Roles {
		if !validRole(role) {
			fail("roles.%s: unknown role %q", host, role)
		}
	}
	return errors.Join(errs...)
}

// ValidateWorker checks the settings only a worker needs.
func (c Config) ValidateWorker() error {
	var errs []error
	if c.Train.GraphPartFile == "" {
		errs = append(errs, errors.New("train.graph_part_file is required"))
	}
	if c.Train.DictFile == "" && c.Train.NegativeNum > 0 {
		errs = append(errs, errors.New("train.dict_file is required for negative sampling"))
	}
	if c.Train.OutputFile == "" {
		errs = append(errs, errors.New("train.output_file is required"))
	}
	return errors.Join(errs...)
}

func validRole(r string) bool {
	switch cluster.Role(r) {
	case cluster.RoleAll, cluster.RoleServer, cluster.RoleWorker:
		return true
	}
	return false
}

// RoleFor returns the role assigned to hostname. Unlisted hosts and
// unrecognised rules get the default role.
func (c Config) RoleFor(hostname string) cluster.Role {
	r, ok := c.Roles[hostname]
	if !ok || !validRole(r) {
		return cluster.RoleAll
	}
	return cluster.Role(r)
}

// WorkerEdges is the number of edges each worker samples.
func (c Config) WorkerEdges() int64 {
	if c.Cluster.Workers <= 0 {
		return c.Train.SampleEdges
	}
	return c.Train.SampleEdges / int64(c.Cluster.Workers)
}

// ShardOptions converts the table section for shard construction.
func (c Config) ShardOptions() shard.Options {
	return shard.Options{
		Rows:    c.Table.Rows,
		Cols:    c.Table.Cols,
		InitMin: c.Table.InitMin,
		InitMax: c.Table.InitMax,
		Threads: c.Table.ServerThreads,
		Seed:    c.Table.Seed,
	}
}

// ControllerOptions converts the cluster section for the consistency
// controller.
func (c Config) ControllerOptions() consistency.Options {
	return consistency.Options{
		Protocol:  c.Cluster.Protocol,
		Workers:   c.Cluster.Workers,
		Staleness: c.Cluster.Staleness,
	}
}
