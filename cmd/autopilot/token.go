package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/server"
	"github.com/spf13/cobra"
)

var (
	tokenUserID string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the control API",
	Long:  `Sign a bearer token for a user with JWT_SECRET. The token authorizes every /automation endpoint.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "User ID (UUID) (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default JWT_EXPIRATION_HOURS)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(tokenUserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if tokenTTL > 0 {
		cfg.JWT.TTL = tokenTTL
	}

	tokens, err := server.NewTokenService(cfg.JWT)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
