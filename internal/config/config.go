// Package config loads repatch settings from a YAML file and REPATCH_*
// environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"repatch/internal/manifest"
)

// Config is the full set of settings.
type Config struct {
	ModuleDir   string            `mapstructure:"module_dir"`
	OutputDir   string            `mapstructure:"output_dir"`
	Extensions  []string          `mapstructure:"extensions"`
	Required    []string          `mapstructure:"required"`
	Exclude     []string          `mapstructure:"exclude"`
	Include     []string          `mapstructure:"include"`
	PatchSets   map[string]string `mapstructure:"patch_sets"`
	Manifest    ManifestConfig    `mapstructure:"manifest"`
	Deobfuscate DeobfuscateConfig `mapstructure:"deobfuscate"`
	Log         LogConfig         `mapstructure:"log"`
}

type ManifestConfig struct {
	Path       string `mapstructure:"path"`
	Password   string `mapstructure:"password"`
	Salt       string `mapstructure:"salt"` // hex
	Iterations int    `mapstructure:"iterations"`
}

type DeobfuscateConfig struct {
	JunkTypes []string `mapstructure:"junk_types"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "repatch"

func setDefaults(v *viper.Viper) {
	v.SetDefault("module_dir", ".")
	v.SetDefault("output_dir", "patched")
	v.SetDefault("extensions", []string{".exe", ".dll"})
	v.SetDefault("required", []string{})
	v.SetDefault("exclude", []string{})
	v.SetDefault("include", []string{})
	v.SetDefault("patch_sets", map[string]string{})
	v.SetDefault("manifest.path", "")
	v.SetDefault("manifest.password", "")
	v.SetDefault("manifest.salt", "")
	v.SetDefault("manifest.iterations", manifest.DefaultIterations)
	v.SetDefault("deobfuscate.junk_types", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads path, or repatch.yaml in the working directory when path is
// empty. A missing default file is not an error. Environment variables
// such as REPATCH_MANIFEST_PASSWORD override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("REPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFile)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Manifest.Iterations <= 0 {
		return fmt.Errorf("config: manifest.iterations must be positive, got %d", c.Manifest.Iterations)
	}
	if _, err := c.Manifest.SaltBytes(); err != nil {
		return err
	}
	for i, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Extensions[i] = "." + ext
		}
	}
	return nil
}

// SaltBytes decodes the hex salt.
func (m ManifestConfig) SaltBytes() ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(m.Salt, "0x"))
	if err != nil {
		return nil, fmt.Errorf("config: manifest.salt: %w", err)
	}
	return b, nil
}

// HasKey reports whether both manifest password and salt are set.
func (m ManifestConfig) HasKey() bool {
	return m.Password != "" && m.Salt != ""
}
