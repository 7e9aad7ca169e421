package chunkserver

import (
	"errors"
	"net"
	fp "path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var (
	ErrNoLocations      = errors.New("no chunk server locations configured")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidWorkers   = errors.New("worker count must be positive")
)

type Config struct {
	Server struct {
		Host      string   `envconfig:"SERVER_HOST" default:"localhost"`
		Locations []string `envconfig:"CHUNKSERVER_LOCS" default:"50052,50053,50054"`
		Workers   int      `envconfig:"SERVER_WORKERS" default:"3"`
	}
	Master struct {
		Addr           string        `envconfig:"MASTER_ADDR"`
		HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"10s"`
	}
	Chunks struct {
		Root string `envconfig:"CHUNK_ROOT" default:"chunks"`
		Size int64  `envconfig:"CHUNK_SIZE" default:"67108864"`
	}
	Log struct {
		Level string `envconfig:"LOG_LEVEL" default:"info"`
	}
}

// NodeConfig is everything a single chunk server needs to run.
type NodeConfig struct {
	Addr           string
	Root           string
	ChunkSize      int64
	Workers        int
	MasterAddr     string
	HealthInterval time.Duration
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case len(c.Nodes()) == 0:
		return ErrNoLocations
	case c.Chunks.Size <= 0:
		return ErrInvalidChunkSize
	case c.Server.Workers <= 0:
		return ErrInvalidWorkers
	}

	return nil
}

// Nodes derives one NodeConfig per location. A location without a colon is
// a port on Server.Host. Each node stores its chunks in Chunks.Root/<location>.
func (c *Config) Nodes() []NodeConfig {
	nodes := make([]NodeConfig, 0, len(c.Server.Locations))
	for _, loc := range c.Server.Locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}

		addr := loc
		if !strings.Contains(loc, ":") {
			addr = net.JoinHostPort(c.Server.Host, loc)
		}

		nodes = append(nodes, NodeConfig{
			Addr:           addr,
			Root:           fp.Join(c.Chunks.Root, strings.ReplaceAll(loc, ":", "_")),
			ChunkSize:      c.Chunks.Size,
			Workers:        c.Server.Workers,
			MasterAddr:     c.Master.Addr,
			HealthInterval: c.Master.HealthInterval,
		})
	}

	return nodes
}
