package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/archagent/internal/config"
	archhttp "github.com/fyrsmithlabs/archagent/internal/http"
)

var tokenOpts struct {
	subject string
	ttl     time.Duration
}

// tokenCmd issues API bearer tokens
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Sign a bearer token with auth.jwt_secret for clients of "archagent serve".

Examples:
  # One-day token for a CI job
  archagent token --subject ci --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.subject, "subject", "cli", "token subject")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "token lifetime")
}

// runToken prints a signed token to stdout.
func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Auth.JWTSecret.IsSet() {
		return errors.New("auth.jwt_secret is not set")
	}
	if tokenOpts.ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", tokenOpts.ttl)
	}

	token, err := archhttp.NewAuthenticator(cfg.Auth.JWTSecret.Value(), cfg.Auth.Issuer).IssueToken(tokenOpts.subject, tokenOpts.ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
