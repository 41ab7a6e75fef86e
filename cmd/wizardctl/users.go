package main

import (
	"errors"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/auth"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/database"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedUserCmd(a *app) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "seed-user",
		Short: "Create a wizard account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := users.ValidateInputs(name, email, password); err != nil {
				return err
			}
			if a.cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := database.Connect(ctx, a.cfg.Database.URL, a.cfg.Database.ConnectAttempts, a.cfg.Database.ConnectDelay, a.logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}

			userID, err := users.NewStore(pool).Create(ctx, name, email, password)
			if err != nil {
				return err
			}
			a.logger.Info("user created", zap.String("user_id", userID), zap.String("email", email))
			a.printf("Created user %s\n  Name:  %s\n  Email: %s\n", userID, name, email)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name of the user")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password, at least 8 characters with a letter and a number")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

// newTokenCmd mints a token without a database, for local development.
func newTokenCmd(a *app) *cobra.Command {
	var userID, username string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			jm, err := auth.NewJWTManager(a.cfg.Auth.JWTSecret)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = a.cfg.Auth.TokenTTL
			}
			if username == "" {
				username = userID
			}
			token, expires, err := jm.GenerateToken(cmd.Context(), userID, username, userID, []string{"user"}, ttl)
			if err != nil {
				return err
			}
			a.logger.Debug("token minted", zap.String("user_id", userID), zap.Time("expires_at", expires))
			a.printf("%s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID; also the workspace the token opens")
	cmd.Flags().StringVar(&username, "username", "", "Display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	cmd.MarkFlagRequired("user")
	return cmd
}
