// Package auth provides the OAuth2 HTTP client shared by every Google API
// adapter.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/sheets/v4"
	"google.golang.org/api/tasks/v1"
)

// Scopes are the permissions rentbooks asks for.
var Scopes = []string{
	gmail.GmailModifyScope,
	sheets.SpreadsheetsScope,
	drive.DriveScope,
	tasks.TasksScope,
}

// CallbackAddr is where the local OAuth redirect is received.
const CallbackAddr = "localhost:8090"

// Config holds OAuth2 configuration paths.
type Config struct {
	CredentialsPath string // credentials.json from Google Cloud Console
	Storage         TokenStorage
	// Interactive allows the browser flow when no token is stored.
	Interactive bool
	Logger      *slog.Logger
}

// ErrNoToken is returned when no token is stored and the browser flow is disabled.
var ErrNoToken = errors.New("no OAuth token stored; run `rentbooks auth` first")

// HTTPClient returns an authorized client. Refreshed tokens are saved back
// to the configured storage.
func HTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	credBytes, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(credBytes, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	token, err := cfg.Storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load token: %w", err)
	}

	if token == nil {
		if !cfg.Interactive {
			return nil, ErrNoToken
		}
		token, err = tokenFromWeb(ctx, oauthConfig)
		if err != nil {
			return nil, err
		}
		if err := cfg.Storage.Save(ctx, token); err != nil {
			logger.Warn("Unable to save token", "error", err)
		}
	}

	src := &persistingSource{
		base:    oauthConfig.TokenSource(ctx, token),
		storage: cfg.Storage,
		last:    token.AccessToken,
		logger:  logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// tokenFromWeb runs the browser consent flow with a local callback.
func tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	config.RedirectURL = "http://" + CallbackAddr + "/callback"

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Go to the following link in your browser:\n%v\n\n", authURL)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "state-token" {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			return
		}
		fmt.Fprintf(w, "Authentication successful! You can close this window.")
		codeChan <- code
	})

	server := &http.Server{Addr: CallbackAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.Background())

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange code: %w", err)
	}
	return token, nil
}
