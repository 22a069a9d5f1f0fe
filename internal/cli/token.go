package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reminder-notify-backend/internal/mw"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local development",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("user", "", "User ID to issue the token for (required)")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl_hours)")
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be configured")
	}
	if ttl <= 0 {
		ttl = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	}

	token, err := mw.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, userID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
