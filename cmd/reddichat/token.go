package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/pkg/app"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			userID, _ := cmd.Flags().GetString("user")
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if userID == "" {
				return errors.New("--user is required")
			}

			cfg, _, err := app.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			jwt, err := auth.NewJWT(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := jwt.Issue(auth.User{ID: userID, Email: email, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id carried in the token subject")
	cmd.Flags().String("email", "", "User email")
	cmd.Flags().String("name", "", "User display name")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	return cmd
}
