// tokengen mints bearer tokens for local development. Production tokens come
// from the identity service that shares the signing keys.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		secret   string
		kid      string
		duration time.Duration
	)
	flagSet := pflag.NewFlagSet("tokengen", pflag.ContinueOnError)
	flagSet.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret (defaults to $JWT_SECRET)")
	flagSet.StringVar(&kid, "kid", "default", "key id written to the token header")
	flagSet.DurationVar(&duration, "ttl", 24*time.Hour, "token lifetime")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tokengen [flags] USER_ID...\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	users := flagSet.Args()
	if len(users) == 0 {
		flagSet.Usage()
		return errors.New("at least one user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("--secret or JWT_SECRET is required")
	}

	mgr := auth.NewJWTManagerFromKeys(map[string]string{kid: secret}, kid, duration)
	for _, u := range users {
		token, expiresAt, err := mgr.GenerateToken(u)
		if err != nil {
			return fmt.Errorf("user %q: %w", u, err)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", u, expiresAt.UTC().Format(time.RFC3339), token)
	}
	return nil
}
