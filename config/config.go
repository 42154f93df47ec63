// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stamp-cli/internal/crypto"
)

// Config はアプリケーション設定を表す。
type Config struct {
	DataDir          string
	DatabaseDriver   string
	DatabaseURL      string
	LogLevel         string
	KDFQuick         bool
	AgentListen      string
	DefaultIdentity  string
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は .env、設定ファイル、STAMP_ で始まる環境変数の順に設定を読み込む。
// configFile が空の場合は STAMP_CONFIG、次に ~/.config/stamp/config.yaml を探す。
func Load(configFile string) (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("STAMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dataDir := defaultDataDir()
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "WARN")
	v.SetDefault("kdf_quick", false)
	v.SetDefault("agent_listen", "127.0.0.1:5757")
	v.SetDefault("default_identity", "")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("otel_service_name", "stamp")
	v.SetDefault("otel_sampling_rate", 1.0)

	if configFile == "" {
		configFile = os.Getenv("STAMP_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".config", "stamp"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DataDir:          v.GetString("data_dir"),
		DatabaseDriver:   strings.ToLower(v.GetString("database_driver")),
		DatabaseURL:      v.GetString("database_url"),
		LogLevel:         strings.ToUpper(v.GetString("log_level")),
		KDFQuick:         v.GetBool("kdf_quick"),
		AgentListen:      v.GetString("agent_listen"),
		DefaultIdentity:  v.GetString("default_identity"),
		OtelEnabled:      v.GetBool("otel_enabled"),
		OtelEndpoint:     v.GetString("otel_endpoint"),
		OtelServiceName:  v.GetString("otel_service_name"),
		OtelSamplingRate: v.GetFloat64("otel_sampling_rate"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseURL == "" {
			c.DatabaseURL = filepath.Join(c.DataDir, "stamp.db")
		}
	case "mysql":
		if c.DatabaseURL == "" {
			return errors.New("STAMP_DATABASE_URL is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q (expected sqlite or mysql)", c.DatabaseDriver)
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("otel sampling rate must be between 0 and 1, got %v", c.OtelSamplingRate)
	}
	return nil
}

// KDFParams はマスター鍵導出のコストを返す。
func (c *Config) KDFParams() crypto.KDFParams {
	if c.KDFQuick {
		return crypto.KDFInteractive
	}
	return crypto.KDFModerate
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stamp")
	}
	return ".stamp"
}
