// Package config holds the server's environment settings and runtime tuning.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is read from ROOMQUEST_* variables and supplies flag defaults.
type Env struct {
	Addr       string `env:"ROOMQUEST_ADDR" envDefault:":8080"`
	DataDir    string `env:"ROOMQUEST_DATA_DIR" envDefault:"./data"`
	Store      string `env:"ROOMQUEST_STORE" envDefault:"sqlite"`
	Tuning     string `env:"ROOMQUEST_TUNING" envDefault:"./configs/tuning.yaml"`
	TaskChains string `env:"ROOMQUEST_TASKCHAINS" envDefault:"./configs/taskchains.yaml"`
	AdminToken string `env:"ROOMQUEST_ADMIN_TOKEN"`
	Audit      bool   `env:"ROOMQUEST_AUDIT" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
