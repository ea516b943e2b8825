package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Anthony-Michael/replyrocket-auth/internal/flagx"
)

const envPrefix = "REPLYROCKET"

// loadFileAndEnv overlays the config file named by -c/-config (JSON, YAML or
// TOML by extension) and then REPLYROCKET_* variables onto cfg. Keys are the
// mapstructure tags of Config; nested keys use "_" in the environment, so
// argon2.memory is REPLYROCKET_ARGON2_MEMORY.
func loadFileAndEnv(cfg *Config, args []string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path := flagx.ConfigFileFlag(args); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read config file %s: %w", ErrConfig, path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("%w: decode settings: %w", ErrConfig, err)
	}
	return nil
}

// setDefaults makes every key known to viper, which AutomaticEnv needs to
// pick the variable up during Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("service_name", c.ServiceName)
	v.SetDefault("http_addr", c.EndpointAddrHTTP)
	v.SetDefault("grpc_addr", c.EndpointAddrGRPC)
	v.SetDefault("database_dsn", c.DatabaseDSN)
	v.SetDefault("db_max_open_conns", c.DBMaxOpenConns)
	v.SetDefault("db_max_idle_conns", c.DBMaxIdleConns)
	v.SetDefault("db_conn_max_lifetime", c.DBConnMaxLifetime)
	v.SetDefault("secret_key", c.SecretKey)
	v.SetDefault("issuer", c.Issuer)
	v.SetDefault("access_token_ttl", c.AccessTokenValidityDuration)
	v.SetDefault("refresh_token_ttl", c.RefreshTokenValidityDuration)
	v.SetDefault("revoke_family_on_reuse", c.RevokeFamilyOnReuse)
	v.SetDefault("environment", string(c.Environment))
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
	v.SetDefault("argon2.memory", c.Argon2.Memory)
	v.SetDefault("argon2.iterations", c.Argon2.Iterations)
	v.SetDefault("argon2.parallelism", c.Argon2.Parallelism)
	v.SetDefault("argon2.saltlength", c.Argon2.SaltLength)
	v.SetDefault("argon2.keylength", c.Argon2.KeyLength)
	v.SetDefault("login_rate_limit", c.LoginRateLimit)
	v.SetDefault("login_rate_window", c.LoginRateWindow)
	v.SetDefault("redis_addr", c.RedisAddr)
	v.SetDefault("redis_password", c.RedisPassword)
	v.SetDefault("redis_db", c.RedisDB)
	v.SetDefault("redis_prefix", c.RedisPrefix)
	v.SetDefault("otlp_endpoint", c.OTLPEndpoint)
}
