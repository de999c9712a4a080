package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/strutil"
)

const defaultEnvironmentName = "local"

// EnvOverrides are read from the process environment and win over both
// sqlapply.toml and dotenv files.
type EnvOverrides struct {
	URL              string        `env:"SQLAPPLY_URL"`
	Credential       string        `env:"SQLAPPLY_CREDENTIAL"`
	Kind             string        `env:"SQLAPPLY_KIND"`
	ConnectTimeout   time.Duration `env:"SQLAPPLY_CONNECT_TIMEOUT"`
	StatementTimeout time.Duration `env:"SQLAPPLY_STATEMENT_TIMEOUT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name           string
	Endpoint       database.Endpoint
	DotenvPath     string
	FromConfig     bool
	FromDotenv     bool
	FromProcessEnv bool
}

// ResolveEnvironment resolves a named environment into an endpoint. Values
// are layered: sqlapply.toml, then .env.<name> (or .env), then SQLAPPLY_*
// process variables. The URL may still be empty; callers apply CLI flags and
// validate the endpoint afterwards.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if config != nil && config.Environments != nil {
		envConfig, envExists = config.Environments[envName]
	}

	resolved := &ResolvedEnvironment{
		Name:       envName,
		FromConfig: envExists,
	}
	ep := database.Endpoint{
		Name:             envName,
		URL:              os.ExpandEnv(envConfig.URL),
		Credential:       os.ExpandEnv(envConfig.Credential),
		ConnectTimeout:   envConfig.ConnectTimeout.Duration,
		StatementTimeout: envConfig.StatementTimeout.Duration,
		ExecFunction:     envConfig.ExecFunction,
		ExecParam:        envConfig.ExecParam,
		QueryFunction:    envConfig.QueryFunction,
		QueryParam:       envConfig.QueryParam,
	}
	kind := envConfig.Kind

	dotenvPath, err := findDotenv(config, envName)
	if err != nil {
		return nil, err
	}
	resolved.DotenvPath = dotenvPath
	if dotenvPath != "" {
		values, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
		}
		resolved.FromDotenv = true
		if url, credential, dotenvKind := fromDotenv(values); url != "" {
			ep.URL = url
			if credential != "" {
				ep.Credential = credential
			}
			if dotenvKind != "" {
				kind = string(dotenvKind)
			}
		}
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and no .env.%s found%s",
			envName, FileName, envName, strutil.DidYouMean(envName, config.EnvironmentNames()))
	}

	var overrides EnvOverrides
	if err := ParseEnv(&overrides); err != nil {
		return nil, err
	}
	if overrides.URL != "" {
		ep.URL = overrides.URL
		resolved.FromProcessEnv = true
	}
	if overrides.Credential != "" {
		ep.Credential = overrides.Credential
		resolved.FromProcessEnv = true
	}
	if overrides.Kind != "" {
		kind = overrides.Kind
		resolved.FromProcessEnv = true
	}
	if overrides.ConnectTimeout > 0 {
		ep.ConnectTimeout = overrides.ConnectTimeout
	}
	if overrides.StatementTimeout > 0 {
		ep.StatementTimeout = overrides.StatementTimeout
	}

	if kind != "" {
		k, err := database.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("environment %q: %w", envName, err)
		}
		ep.Kind = k
	} else if ep.URL != "" {
		ep.Kind = database.DetectKind(ep.URL)
	}

	resolved.Endpoint = ep
	return resolved, nil
}

// findDotenv looks for .env.<name> then .env next to sqlapply.toml, or in the
// working directory when there is no config file.
func findDotenv(config *Config, envName string) (string, error) {
	baseDir := config.ConfigDir()
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		baseDir = cwd
	}

	for _, name := range []string{".env." + envName, ".env"} {
		path := filepath.Join(baseDir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to access %s: %w", path, err)
		}
	}
	return "", nil
}

// fromDotenv picks the endpoint out of dotenv values. DATABASE_URL wins, then
// a Supabase project URL and key, which select the REST executor.
func fromDotenv(values map[string]string) (url, credential string, kind database.Kind) {
	if v := values["DATABASE_URL"]; v != "" {
		return v, "", ""
	}

	pairs := [][3]string{
		{"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_KEY"},
		{"EXPO_PUBLIC_SUPABASE_URL", "EXPO_PUBLIC_SUPABASE_ANON_KEY", ""},
	}
	for _, p := range pairs {
		u := values[p[0]]
		if u == "" {
			continue
		}
		key := values[p[1]]
		if key == "" && p[2] != "" {
			key = values[p[2]]
		}
		return u, key, database.KindREST
	}
	return "", "", ""
}
