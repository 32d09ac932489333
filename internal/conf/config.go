// config.go: settings struct for the insectid engine and the viper plumbing
// that loads it from config file, environment and flags.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// Context carries the settings and the viper instance through the CLI.
type Context struct {
	Settings *Settings
	Viper    *viper.Viper
}

// LevelBackendSettings configures the model backend per taxonomic level.
// The architecture choice behind an artifact is level-dependent policy: the
// top-level order/family models are higher capacity and get more threads and
// XNNPACK; the lighter genus/species models default to a plain CPU
// interpreter.
type LevelBackendSettings struct {
	Threads    int  `yaml:"threads" mapstructure:"threads"`
	UseXNNPACK bool `yaml:"use_xnnpack" mapstructure:"use_xnnpack"`
}

// Settings is the full engine configuration.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	// ManifestPath locates the classifier manifest. Absent manifest
	// degrades to an empty registry, which is fatal only at load.
	ManifestPath string `yaml:"manifest" mapstructure:"manifest"`

	// TopK is the number of candidates extracted per inference.
	TopK int `yaml:"top_k" mapstructure:"top_k"`

	// LevelTimeout bounds each cascade level; zero disables the budget.
	LevelTimeout time.Duration `yaml:"level_timeout" mapstructure:"level_timeout"`

	// CropsDir, when set, enables crop persistence through the filesystem
	// crop store.
	CropsDir string `yaml:"crops_dir" mapstructure:"crops_dir"`

	// Backend holds per-level interpreter policy keyed by rank name.
	Backend map[string]LevelBackendSettings `yaml:"backend" mapstructure:"backend"`
}

// Defaults registers the default configuration values on viper.
func Defaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("manifest", "models/manifest.yaml")
	v.SetDefault("top_k", 3)
	v.SetDefault("level_timeout", time.Duration(0))
	v.SetDefault("crops_dir", "")
	v.SetDefault("backend.order.threads", 4)
	v.SetDefault("backend.order.use_xnnpack", true)
	v.SetDefault("backend.family.threads", 4)
	v.SetDefault("backend.family.use_xnnpack", true)
	v.SetDefault("backend.genus.threads", 1)
	v.SetDefault("backend.species.threads", 1)
}

// Load reads settings from the optional config file path, environment
// (INSECTID_ prefix) and whatever flags were bound onto v by the CLI.
func Load(v *viper.Viper, configPath string) (*Settings, error) {
	Defaults(v)

	v.SetEnvPrefix("insectid")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	if s.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", s.TopK)
	}
	if s.LevelTimeout < 0 {
		return fmt.Errorf("level_timeout must not be negative, got %s", s.LevelTimeout)
	}
	for name := range s.Backend {
		if !taxonomy.Valid(taxonomy.Rank(name)) {
			return fmt.Errorf("backend policy for unknown level %q", name)
		}
	}
	return nil
}

// BackendPolicy converts the per-level settings into the model factory's
// policy map.
func (s *Settings) BackendPolicy() map[taxonomy.Rank]model.LevelPolicy {
	policy := make(map[taxonomy.Rank]model.LevelPolicy, len(s.Backend))
	for name, lvl := range s.Backend {
		policy[taxonomy.Rank(name)] = model.LevelPolicy{
			Threads:    lvl.Threads,
			UseXNNPACK: lvl.UseXNNPACK,
		}
	}
	return policy
}
