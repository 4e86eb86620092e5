package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/rentbooks/rentbooks/internal/google/auth"
	"github.com/rentbooks/rentbooks/internal/google/gmail"
)

// authCmd represents the auth command.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize rentbooks with the operator's Google account",
	Long: `Run the OAuth consent flow in the browser and store the token.

The token is saved to GOOGLE_TOKEN_PATH (a local file or gs://bucket/object)
and refreshed automatically afterwards.

Example:
  rentbooks auth`,
	Run: runAuth,
}

func runAuth(cmd *cobra.Command, args []string) {
	cfg, paths := loadConfig([]string{"google", "credentialsPath"})
	ctx := cmd.Context()

	client, err := auth.HTTPClient(ctx, auth.Config{
		CredentialsPath: cfg.Google.CredentialsPath,
		Storage:         auth.NewTokenStorage(paths.TokenPath()),
		Interactive:     true,
		Logger:          slog.Default(),
	})
	exitOnError(err, "failed to authorize")

	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	exitOnError(err, "failed to create Gmail service")

	email, err := gmail.New(svc, slog.Default()).Email(ctx)
	exitOnError(err, "failed to read account profile")

	fmt.Printf("Authorized as %s\n", email)
	if cfg.Operator.Email != "" && !strings.EqualFold(email, cfg.Operator.Email) {
		slog.Warn("Authorized account is not the configured operator", "account", email, "operator", cfg.Operator.Email)
	}
}
