package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Port          int
	DBPath        string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ControlSocket string
	EmailSuffix   string
	BcryptCost    int
	LogLevel      string
	LogFormat     string
}

// SetDefaults registers defaults, the SKILLSWAP_ env prefix and the config
// file search path on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3215)
	v.SetDefault("db_path", "skillswap.db")
	v.SetDefault("read_timeout", "120s")
	v.SetDefault("write_timeout", "30s")
	v.SetDefault("control_socket", "/tmp/skillswap.sock")
	v.SetDefault("email_suffix", "@gmail.com")
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")

	v.SetEnvPrefix("SKILLSWAP")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.skillswap")
	v.AddConfigPath(".")
}

// Load reads the optional config file and resolves every key. A missing
// config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	cfg := &Config{
		Port:          v.GetInt("port"),
		DBPath:        v.GetString("db_path"),
		ReadTimeout:   v.GetDuration("read_timeout"),
		WriteTimeout:  v.GetDuration("write_timeout"),
		ControlSocket: v.GetString("control_socket"),
		EmailSuffix:   v.GetString("email_suffix"),
		BcryptCost:    v.GetInt("bcrypt_cost"),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path must be set")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("read_timeout and write_timeout must be positive")
	}
	if c.EmailSuffix == "" {
		return errors.New("email_suffix must be set")
	}
	return nil
}
