package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/rentbooks/rentbooks/internal/google/gcs"
)

// TokenStorage persists the OAuth token between runs.
type TokenStorage interface {
	// Load returns nil, nil when no token has been saved yet.
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, token *oauth2.Token) error
}

// NewTokenStorage picks the storage for path: gs://bucket/object for cloud
// storage, anything else for a local file.
func NewTokenStorage(path string) TokenStorage {
	if strings.HasPrefix(path, "gs://") {
		return &GCSTokenStorage{path: path}
	}
	return &FileTokenStorage{path: path}
}

// savedToken is the on-disk token format.
type savedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

func encodeToken(token *oauth2.Token) ([]byte, error) {
	data, err := json.MarshalIndent(savedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	return data, nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var saved savedToken
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  saved.AccessToken,
		RefreshToken: saved.RefreshToken,
		TokenType:    saved.TokenType,
		Expiry:       saved.Expiry,
	}, nil
}

// FileTokenStorage keeps the token in a local file.
type FileTokenStorage struct {
	path string
}

func (f *FileTokenStorage) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return decodeToken(data)
}

func (f *FileTokenStorage) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// GCSTokenStorage keeps the token in a cloud storage object.
type GCSTokenStorage struct {
	path string // gs://bucket-name/path/to/token.json
}

func (g *GCSTokenStorage) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := gcs.Read(ctx, g.path)
	if errors.Is(err, gcs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeToken(data)
}

func (g *GCSTokenStorage) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}
	return gcs.Write(ctx, g.path, data, "application/json")
}

// persistingSource saves refreshed tokens back to storage.
type persistingSource struct {
	base    oauth2.TokenSource
	storage TokenStorage
	last    string
	logger  *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken == p.last {
		return token, nil
	}
	p.last = token.AccessToken

	// oauth2.TokenSource carries no context
	if err := p.storage.Save(context.Background(), token); err != nil {
		p.logger.Warn("Unable to save refreshed token", "error", err)
	}
	return token, nil
}
