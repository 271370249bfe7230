package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/machine-sentry/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Issue an HS256 bearer token signed with JWT_SECRET. Only tokens for the
"webhook" subject are authorized by the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return errors.New("jwt secret required\nProvide via --secret flag or JWT_SECRET env var")
		}
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.NewTokens(secret).Issue(subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "Signing secret (read from JWT_SECRET env var if not set)")
	tokenCmd.Flags().String("subject", auth.WebhookSubject, "Token subject")
	tokenCmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
}
