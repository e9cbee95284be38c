// Package launch parses and validates the client's launch configuration.
package launch

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the launch request payload. Program is the only required field;
// everything else has a usable default.
type Config struct {
	Program     string            `json:"program" validate:"required"`
	StopOnEntry bool              `json:"stopOnEntry"`
	Args        []string          `json:"args"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	EnvFile     string            `json:"envFile"`
	Mode        string            `json:"mode" validate:"omitempty,oneof=debug exec test remote"`
	RemotePath  string            `json:"remotePath"`
	Host        string            `json:"host"`
	Port        int               `json:"port" validate:"omitempty,gte=1,lte=65535"`
	BuildFlags  string            `json:"buildFlags"`
	InitFile    string            `json:"init"`
	Trace       string            `json:"trace"`
	Backend     string            `json:"backend"`
}

// Parse decodes raw launch arguments, merges the env file if one is given
// and validates the result. Entries in Env always win over the env file.
func Parse(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse launch configuration: %w", err)
	}

	if cfg.EnvFile != "" {
		fileEnv, err := godotenv.Read(cfg.EnvFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read env file %s", cfg.EnvFile)
		}
		merged := make(map[string]string, len(fileEnv)+len(cfg.Env))
		for k, v := range fileEnv {
			merged[k] = v
		}
		for k, v := range cfg.Env {
			merged[k] = v
		}
		cfg.Env = merged
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid launch configuration")
	}
	return &cfg, nil
}

// Addr returns the debugger endpoint, defaulting to 127.0.0.1:4711.
func (c *Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 4711
	}
	return fmt.Sprintf("%s:%d", host, port)
}
