package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Env holds the environment overrides of the server. Empty values leave the
// command-line flags in effect.
type Env struct {
	Addr         string        `env:"NIGHTROAD_ADDR"`
	Port         string        `env:"PORT"`
	DataDir      string        `env:"NIGHTROAD_DATA_DIR"`
	CORSOrigins  []string      `env:"NIGHTROAD_CORS_ORIGINS" envSeparator:","`
	ActionRPS    float64       `env:"NIGHTROAD_ACTION_RPS"`
	ActionBurst  int           `env:"NIGHTROAD_ACTION_BURST" envDefault:"10"`
	Heartbeat    time.Duration `env:"NIGHTROAD_SSE_HEARTBEAT" envDefault:"25s"`
	StreamBuffer int           `env:"NIGHTROAD_STREAM_BUFFER"`
	DeployEnv    string        `env:"DEPLOY_ENV"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// ListenAddr picks NIGHTROAD_ADDR, then PORT, then the flag value.
func (e Env) ListenAddr(flagAddr string) string {
	if a := strings.TrimSpace(e.Addr); a != "" {
		return a
	}
	if p := strings.TrimSpace(e.Port); p != "" {
		return ":" + p
	}
	return flagAddr
}

// AdminEnabled keeps the loopback admin routes off in staging and production.
func (e Env) AdminEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(e.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
