package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/Anthony-Michael/replyrocket-auth/internal/flagx"
)

var serverFlags = map[string]bool{
	"-a": true, "-g": true, "-d": true, "-s": true, "-i": true,
	"-t": true, "-r": true, "-e": true, "-l": true, "-redis": true,
	"-revoke-family-on-reuse": false,
}

// parseFlags overrides cfg with command-line flags. Unknown flags are
// filtered out first so other components can share the command line.
//
//	-a string    HTTP bind address (e.g. ":8080")
//	-g string    gRPC bind address (e.g. ":50051")
//	-d string    PostgreSQL DSN
//	-s string    JWT HMAC secret key
//	-i string    token issuer
//	-t duration  access token lifetime (e.g. "30m")
//	-r duration  refresh token lifetime (e.g. "168h")
//	-e string    environment: development, test, staging, production
//	-l string    log level
//	-redis string  Redis address for the shared rate limiter
//	-revoke-family-on-reuse  revoke every session of a user on refresh reuse
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	env := string(cfg.Environment)

	fs.StringVar(&cfg.EndpointAddrHTTP, "a", cfg.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&cfg.EndpointAddrGRPC, "g", cfg.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "secret key")
	fs.StringVar(&cfg.Issuer, "i", cfg.Issuer, "token issuer")
	fs.DurationVar(&cfg.AccessTokenValidityDuration, "t", cfg.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&cfg.RefreshTokenValidityDuration, "r", cfg.RefreshTokenValidityDuration, "refresh token validity")
	fs.StringVar(&env, "e", env, "environment")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address")
	fs.BoolVar(&cfg.RevokeFamilyOnReuse, "revoke-family-on-reuse", cfg.RevokeFamilyOnReuse, "revoke all sessions on refresh token reuse")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.Environment = Environment(env)
	return nil
}
