package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SYNCD_ADDR is the HTTP API of a running syncd, the suites skip without it
	SyncdAddr  string `envconfig:"SYNCD_ADDR"`
	HealthAddr string `envconfig:"SYNCD_HEALTH_ADDR"`
	AuthSecret string `envconfig:"AUTH_SECRET" default:"secret"`
	// E2E_DEBUG_JSON dumps full HTTP response bodies
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
