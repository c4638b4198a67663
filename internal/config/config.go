// Package config loads trellis settings from .env, an optional
// .trellis/config.yaml and TRELLIS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DirName is the per-repository data directory.
	DirName    = ".trellis"
	configName = "config"
	envPrefix  = "TRELLIS"
)

type Config struct {
	DBPath       string    `mapstructure:"db_path" validate:"required"`
	SnapshotPath string    `mapstructure:"snapshot_path"`
	AutoSnapshot bool      `mapstructure:"auto_snapshot"`
	Project      string    `mapstructure:"project" validate:"required"`
	User         string    `mapstructure:"user" validate:"required"`
	Log          LogConfig `mapstructure:"log"`
	Web          WebConfig `mapstructure:"web"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type WebConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// Addr returns the listen address for the web server.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

var validate = validator.New()

// SetDefaults registers every default on v, relative to root.
func SetDefaults(v *viper.Viper, root string) {
	dir := filepath.Join(root, DirName)
	v.SetDefault("db_path", filepath.Join(dir, "trellis.db"))
	v.SetDefault("snapshot_path", filepath.Join(dir, "snapshot.jsonl"))
	v.SetDefault("auto_snapshot", true)
	v.SetDefault("project", "default")
	v.SetDefault("user", defaultUser())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("web.host", "")
	v.SetDefault("web.port", 8000)
}

// Load reads configuration for the repository rooted at root. Flags bound to
// v before the call take precedence over every other source.
func Load(v *viper.Viper, root string) (*Config, error) {
	// A missing .env is fine.
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, DirName))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	SetDefaults(v, root)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg and reports every invalid field in one error.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func defaultUser() string {
	for _, k := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(k); u != "" {
			return u
		}
	}
	return "me"
}
