package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aipolicy/internal/config"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <identity>",
	Short: "Mint a bearer JWT for an identity",
	Long: `Mint an HS256 bearer token signed with auth.jwt.secret.

The token authenticates as the given identity until it expires.
The lifetime defaults to auth.jwt.ttl (24h).

Example:
  aipolicy token alice
  curl -H "Authorization: Bearer $(aipolicy token alice)" ...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = parseDurationOr(cfg.Auth.JWT.TTL, 24*time.Hour)
		}
		token, err := mintToken(cfg.Auth.JWT, auth.Identity(args[0]), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func mintToken(cfg config.JWTConfig, id auth.Identity, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("auth.jwt.secret is not configured")
	}
	verifier, err := auth.NewTokenVerifier(cfg.Secret, cfg.Issuer)
	if err != nil {
		return "", err
	}
	return verifier.Issue(id, ttl)
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.jwt.ttl)")
	rootCmd.AddCommand(tokenCmd)
}
