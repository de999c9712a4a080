package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kazi/sqlapply/internal/verify"
)

// FileName is the project configuration file searched for by LoadConfig.
const FileName = "sqlapply.toml"

// Duration decodes TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// EnvironmentConfig describes a single named environment from sqlapply.toml.
type EnvironmentConfig struct {
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
	// Credential may reference process env, e.g. "${SUPABASE_SERVICE_ROLE_KEY}".
	Credential       string   `toml:"credential"`
	ConnectTimeout   Duration `toml:"connect_timeout"`
	StatementTimeout Duration `toml:"statement_timeout"`

	// REST endpoints only.
	ExecFunction  string `toml:"exec_function"`
	ExecParam     string `toml:"exec_param"`
	QueryFunction string `toml:"query_function"`
	QueryParam    string `toml:"query_param"`
}

// ApplyConfig holds defaults for the apply command.
type ApplyConfig struct {
	Delimiter string `toml:"delimiter"`
	Splitter  string `toml:"splitter"`
	RunLogDir string `toml:"run_log_dir"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	Apply              ApplyConfig                  `toml:"apply"`
	Checks             []verify.Definition          `toml:"checks"`
	ConfigFilePath     string                       `toml:"-"`
}

// ConfigDir is the directory holding sqlapply.toml, or "" when none was found.
func (c *Config) ConfigDir() string {
	if c == nil || c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// EnvironmentNames lists the configured environments in sorted order.
func (c *Config) EnvironmentNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig searches for sqlapply.toml from the working directory upwards.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom searches for sqlapply.toml from startDir upwards, stopping at
// the first project root. A missing file yields an empty config.
func LoadConfigFrom(startDir string) (*Config, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return readConfig(configPath)
		}

		// Check if we've reached a project boundary
		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, describeTOMLError(err))
	}

	config.ConfigFilePath = path
	return &config, nil
}

// describeTOMLError adds the row and column go-toml reports for syntax errors.
func describeTOMLError(err error) error {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return fmt.Errorf("toml: line %d, column %d: %w", row, col, err)
	}
	var serr *toml.StrictMissingError
	if errors.As(err, &serr) {
		return fmt.Errorf("toml: %s", serr.String())
	}
	return fmt.Errorf("toml: %w", err)
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
