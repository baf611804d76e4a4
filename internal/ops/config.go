package ops

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/decision"
	"main/internal/eventstore"
	"main/internal/exec"
	"main/internal/learn"
	"main/internal/runner"
	"main/internal/schema"
	"main/internal/venue"
)

// FileConfig mirrors the config file layout. JSON and YAML are both
// accepted, chosen by file extension.
type FileConfig struct {
	StartingEquity float64                 `json:"startingEquity" yaml:"startingEquity"`
	Store          eventstore.Config       `json:"store" yaml:"store"`
	Decision       decision.Config         `json:"decision" yaml:"decision"`
	Execution      exec.Config             `json:"execution" yaml:"execution"`
	Attribution    learn.AttributionConfig `json:"attribution" yaml:"attribution"`
	Reliability    learn.ReliabilityConfig `json:"reliability" yaml:"reliability"`
	Runner         runner.Config           `json:"runner" yaml:"runner"`
	Venue          string                  `json:"venue" yaml:"venue"`
	Sim            venue.SimConfig         `json:"sim" yaml:"sim"`
	Live           venue.LiveConfig        `json:"live" yaml:"live"`
	Postgres       PostgresConfig          `json:"postgres" yaml:"postgres"`
}

// PostgresConfig enables the optional queryable event index.
type PostgresConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// Loaded is the resolved configuration plus its content hash. The hash is
// stamped onto every event so a replay can prove which parameters
// produced a decision.
type Loaded struct {
	FileConfig
	Hash string
}

// Load reads a config file, applies defaults and validates.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}

	cfg := FileConfig{
		StartingEquity: 10_000,
		Execution:      exec.DefaultConfig(),
		Attribution:    learn.DefaultAttributionConfig(),
		Reliability:    learn.DefaultReliabilityConfig(),
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrap(err, "parse yaml config")
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrap(err, "parse json config")
		}
	}

	cfg.Store = cfg.Store.WithDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return Loaded{}, err
	}
	if err := cfg.Decision.Validate(); err != nil {
		return Loaded{}, err
	}
	switch cfg.Venue {
	case "", "sim", "live":
	default:
		return Loaded{}, errors.Errorf("unknown venue mode: %q", cfg.Venue)
	}
	if cfg.Venue == "live" && cfg.Live.URL == "" {
		return Loaded{}, errors.New("live venue requires live.url")
	}

	hash, err := Hash(cfg)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{FileConfig: cfg, Hash: hash}, nil
}

// Hash digests the resolved configuration. Two files that resolve to the
// same parameters get the same hash regardless of format or key order.
func Hash(cfg FileConfig) (string, error) {
	canonical, err := schema.CanonicalJSON(cfg)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize config")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
