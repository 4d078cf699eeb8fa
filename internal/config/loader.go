package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EXPENSES_DATABASE_HOST.
const EnvPrefix = "EXPENSES"

// devJWTSecret is only used when running in development without a secret.
const devJWTSecret = "development-only-secret"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// BindFlags lets command-line flags override file and env values.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"server.port":     "port",
		"grpc.port":       "grpc-port",
		"store.driver":    "store",
		"store.seed_file": "seed",
		"logging.level":   "log-level",
	}
	for key, flag := range bindings {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load loads configuration with precedence
// defaults < config file < env vars < CLI flags.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	v.AutomaticEnv()
}

// setDefaults registers every key so AutomaticEnv can resolve nested values.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.version", cfg.Service.Version)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)

	v.SetDefault("grpc.port", cfg.GRPC.Port)

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.database", cfg.Database.Database)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.max_conn_time", cfg.Database.MaxConnTime)
	v.SetDefault("database.max_idle_time", cfg.Database.MaxIdleTime)
	v.SetDefault("database.health_check", cfg.Database.HealthCheck)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.seed_file", cfg.Store.SeedFile)

	v.SetDefault("nats.enabled", cfg.NATS.Enabled)
	v.SetDefault("nats.url", cfg.NATS.URL)

	v.SetDefault("auth.jwt_secret", cfg.Auth.JWTSecret)

	v.SetDefault("logging.level", cfg.Logging.Level)
}

// loadConfigFile reads the config file. A missing file is only an error when
// one was set explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile == "" {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}
