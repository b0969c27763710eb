package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are process-level options read from the environment. They apply
// before a config file is loaded, so they cannot live in Config.
type Settings struct {
	// ConfigPath is the config file used when --config is not given.
	ConfigPath string `env:"RUHUSA_CONFIG"`
	// LogLevel sets the logger level.
	LogLevel string `env:"RUHUSA_LOG_LEVEL" envDefault:"info"`
	// LogFormat selects "json" or "text" output.
	LogFormat string `env:"RUHUSA_LOG_FORMAT" envDefault:"json"`
	// ShutdownTimeout bounds graceful shutdown of the servers.
	ShutdownTimeout time.Duration `env:"RUHUSA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadSettings parses environment variables into Settings.
func LoadSettings() (Settings, error) {
	s, err := env.ParseAs[Settings]()
	if err != nil {
		return s, err
	}
	if s.ConfigPath == "" {
		s.ConfigPath = DefaultConfigPath()
	}
	return s, nil
}
