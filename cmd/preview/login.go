package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/splax/previewd/pkg/jwt"
)

// newLoginCmd mints an access token with the server's signing secret and
// stores it in the config file. It is meant for self-hosted deployments
// where the operator holds JWT_SECRET.
func newLoginCmd() *cobra.Command {
	var (
		user    string
		project string
		secret  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Create and store an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			signing := strings.TrimSpace(secret)
			if signing == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Signing secret: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				signing = strings.TrimSpace(string(raw))
			}
			if signing == "" {
				return errors.New("signing secret is empty")
			}
			token, err := jwt.GenerateToken(user, project, signing, ttl)
			if err != nil {
				return err
			}
			viper.Set("token", token)
			path, err := saveConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s (expires %s)\n", path, time.Now().Add(ttl).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id the token identifies")
	cmd.Flags().StringVar(&project, "project", "", "default project id carried in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (prompted when omitted)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func saveConfig() (string, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		if cfgFile != "" {
			path = cfgFile
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			path = filepath.Join(home, ".preview.yaml")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
