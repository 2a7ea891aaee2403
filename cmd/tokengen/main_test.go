package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
)

func TestRunMintsVerifiableTokens(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	req.NoError(run([]string{"--secret", "s3cret", "--kid", "k1", "--ttl", "5m", "alice", "bob"}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	req.Len(lines, 2)

	verifier := auth.NewJWTManagerFromKeys(map[string]string{"k1": "s3cret"}, "k1", time.Minute)
	for i, want := range []string{"alice", "bob"} {
		fields := strings.Split(lines[i], "\t")
		req.Len(fields, 3)
		req.Equal(want, fields[0])
		claims, err := verifier.VerifyToken(fields[2])
		req.NoError(err)
		req.Equal(want, claims.UserID)
	}
}

func TestRunRequiresUsersAndSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	var out bytes.Buffer
	require.Error(t, run([]string{"--secret", "x"}, &out))
	require.Error(t, run([]string{"alice"}, &out))
}
