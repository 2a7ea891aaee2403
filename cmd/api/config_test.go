package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsAndEnvFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	req.NoError(os.WriteFile(envFile, []byte("JWT_SECRET=from-file\nSESSION_QUEUE_SIZE=32\n"), 0o600))

	// variables already set win over the file
	t.Setenv("SESSION_QUEUE_SIZE", "64")
	t.Setenv("HEARTBEAT_TIMEOUT", "15s")
	t.Cleanup(func() { _ = os.Unsetenv("JWT_SECRET") })

	cfg, err := loadConfig([]string{"--env-file", envFile})
	req.NoError(err)
	req.Equal("from-file", cfg.JWTSecret)
	req.Equal(64, cfg.SessionQueueSize)
	req.Equal(15*time.Second, cfg.HeartbeatTimeout)
	req.Equal("50051", cfg.GRPCPort)
	req.Equal(24*time.Hour, cfg.TokenDuration)
	req.Equal("convo_db", cfg.MongoDatabase)

	mgr, err := cfg.jwtManager()
	req.NoError(err)
	_, _, err = mgr.GenerateToken("alice")
	req.NoError(err)
}

func TestLoadConfig_RequiresSigningKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_KEYS", "")
	_, err := loadConfig([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.Error(t, err)
}

func TestJWTKeysRotation(t *testing.T) {
	req := require.New(t)
	keys, err := parseKeys("k1:one,,k2:two")
	req.NoError(err)
	req.Equal(map[string]string{"k1": "one", "k2": "two"}, keys)

	_, err = parseKeys("k1")
	req.Error(err)

	cfg := Config{JWTKeys: "k1:one,k2:two", JWTActiveKid: "k3", TokenDuration: time.Minute}
	_, err = cfg.jwtManager()
	req.Error(err)

	cfg.JWTActiveKid = "k2"
	_, err = cfg.jwtManager()
	req.NoError(err)
}
