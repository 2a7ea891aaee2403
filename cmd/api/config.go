package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE,default=convo_db"`

	// JWTKeys has the form kid:secret,kid2:secret2 and takes precedence
	// over JWTSecret.
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTKeys       string        `env:"JWT_KEYS"`
	JWTActiveKid  string        `env:"JWT_ACTIVE_KID"`
	TokenDuration time.Duration `env:"TOKEN_DURATION,default=24h"`

	GRPCPort string `env:"PORT,default=50051"`
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	TLSCert  string `env:"TLS_CERT"`
	TLSKey   string `env:"TLS_KEY"`

	RequireTLS bool `env:"REQUIRE_TLS,default=false"`

	NATSURL       string        `env:"NATS_URL"`
	NATSStream    string        `env:"NATS_STREAM,default=NOTIFICATIONS"`
	NATSSubject   string        `env:"NATS_SUBJECT_PREFIX,default=notify"`
	BadgerPath    string        `env:"BADGER_PATH"`
	LedgerTTL     time.Duration `env:"NOTIFY_LEDGER_TTL,default=168h"`
	NotifyBacklog int           `env:"NOTIFY_QUEUE_SIZE,default=1024"`

	RateLimitRPM     int           `env:"RATE_LIMIT_RPM,default=120"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST,default=20"`
	SessionQueueSize int           `env:"SESSION_QUEUE_SIZE,default=256"`
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT,default=60s"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000"`
}

// loadConfig parses flags from args, loads the optional env file and then
// the environment.
func loadConfig(args []string) (Config, error) {
	fs := pflag.NewFlagSet("api", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// a missing file is fine; real deployments set the environment directly
	_ = godotenv.Load(*envFile)

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.JWTKeys == "" && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: either JWT_SECRET or JWT_KEYS must be set")
	}
	if cfg.RequireTLS && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		return Config{}, fmt.Errorf("config: REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return cfg, nil
}

// jwtManager builds the token verifier. JWT_KEYS enables key rotation.
func (c Config) jwtManager() (*auth.JWTManager, error) {
	if c.JWTKeys == "" {
		return auth.NewJWTManager(c.JWTSecret, c.TokenDuration), nil
	}
	keys, err := parseKeys(c.JWTKeys)
	if err != nil {
		return nil, err
	}
	if _, ok := keys[c.JWTActiveKid]; !ok {
		return nil, fmt.Errorf("config: JWT_ACTIVE_KID %q is not in JWT_KEYS", c.JWTActiveKid)
	}
	return auth.NewJWTManagerFromKeys(keys, c.JWTActiveKid, c.TokenDuration), nil
}

func parseKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("config: invalid JWT_KEYS entry %q", p)
		}
		keys[kid] = secret
	}
	return keys, nil
}
