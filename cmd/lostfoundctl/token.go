package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/service"
	"github.com/noah-isme/lostfound-api/pkg/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			parsed, err := parseRole(role)
			if err != nil {
				return err
			}
			tokens := service.NewTokenService(service.TokenConfig{
				Secret: cfg.JWT.Secret,
				Expiry: cfg.JWT.Expiration,
				Issuer: cfg.JWT.Issuer,
			})
			token, expiresAt, err := tokens.Issue(userID, parsed, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the token subject")
	cmd.Flags().StringVar(&role, "role", string(models.RoleUser), "USER, STAFF or ADMIN")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseRole(raw string) (models.UserRole, error) {
	switch role := models.UserRole(strings.ToUpper(strings.TrimSpace(raw))); role {
	case models.RoleUser, models.RoleStaff, models.RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}
