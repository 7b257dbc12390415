package main

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	// COUNTDOWN_SECONDS is the duration of the countdown when no argument is given
	Seconds int `envconfig:"COUNTDOWN_SECONDS" default:"60"`
	// COUNTDOWN_COLOURS colors the clock by its remaining band
	Colours bool `envconfig:"COUNTDOWN_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
