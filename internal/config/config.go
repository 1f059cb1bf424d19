package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	DBPath        string
	MigrationsDir string
	JWTSecret     string
	TokenTTL      time.Duration
	CORSOrigins   []string
	CatalogPath   string
	MirrorBaseURL string
	MirrorToken   string
	SyncToken     string
}

// Load reads configuration from an optional tempo.yml next to the binary (or
// under TEMPO_CONFIG_DIR), with environment variables taking precedence and
// defaults below both.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("TEMPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tempo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := strings.TrimSpace(v.GetString("config_dir")); dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "./data/tempo.db")
	v.SetDefault("migrations_dir", "./migrations")
	v.SetDefault("jwt_secret", "change-this-secret")
	v.SetDefault("token_ttl_hours", 72)
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("catalog_path", "")
	v.SetDefault("mirror_base_url", "")
	v.SetDefault("mirror_token", "")
	v.SetDefault("sync_token", "")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Printf("config: read file: %v", err)
		}
	}

	return Config{
		Port:          v.GetString("port"),
		DBPath:        v.GetString("db_path"),
		MigrationsDir: v.GetString("migrations_dir"),
		JWTSecret:     v.GetString("jwt_secret"),
		TokenTTL:      time.Duration(v.GetInt("token_ttl_hours")) * time.Hour,
		CORSOrigins:   v.GetStringSlice("cors_origins"),
		CatalogPath:   v.GetString("catalog_path"),
		MirrorBaseURL: v.GetString("mirror_base_url"),
		MirrorToken:   v.GetString("mirror_token"),
		SyncToken:     v.GetString("sync_token"),
	}
}
