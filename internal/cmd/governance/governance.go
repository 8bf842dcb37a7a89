// Package governance parses governance command flags and launches the
// governance gRPC service.
package governance

import (
	"context"
	"flag"

	entrypoint "github.com/brightward/brightward/internal/platform/cmd"
	"github.com/brightward/brightward/internal/platform/config"
	server "github.com/brightward/brightward/internal/services/governance/app"
)

// Config holds governance command configuration.
type Config struct {
	Port int `env:"BRIGHTWARD_GOVERNANCE_PORT" envDefault:"8091"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The governance gRPC server port")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the governance service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGovernance, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
