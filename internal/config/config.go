// Package config holds the settings of the bpindex binaries.
package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oda/bpindex/internal/logging"
	"github.com/oda/bpindex/pkg/bptree"
)

const (
	// EnvPath overrides Config.Path.
	EnvPath = "BPINDEX_PATH"
	// EnvPort overrides Server.Port.
	EnvPort = "PORT"
)

// Config is the configuration of one index and the surfaces serving it.
type Config struct {
	Path    string `validate:"required_unless=Backend memory"`
	Backend string `validate:"oneof=file mmap memory"`
	Sync    bool
	Logger  logging.Config
	Server  Server
}

// Server is the configuration for the HTTP server.
type Server struct {
	Mode string `validate:"oneof=debug release test"`
	Host string
	Port int `validate:"min=1,max=65535"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Path:    "bpindex.db",
		Backend: string(bptree.BackendFile),
		Logger:  logging.Default(),
		Server: Server{
			Mode: "release",
			Port: 8080,
		},
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if path := os.Getenv(EnvPath); path != "" {
		c.Path = path
	}
	if port := os.Getenv(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", EnvPort, port)
		}
		c.Server.Port = p
	}
	return nil
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// TreeOptions translates the configuration into bptree options.
func (c Config) TreeOptions(log *zap.Logger) []bptree.Option {
	return []bptree.Option{
		bptree.WithBackend(bptree.Backend(c.Backend)),
		bptree.WithSync(c.Sync),
		bptree.WithLogger(log),
	}
}

// OpenTree opens the configured index.
func (c Config) OpenTree(log *zap.Logger) (*bptree.Tree, error) {
	return bptree.Open(c.Path, c.TreeOptions(log)...)
}
