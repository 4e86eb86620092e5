// Package pathutil provides centralized path management for local rentbooks data.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver manages paths for the run history, estimate cache and OAuth token.
type PathResolver struct {
	dataRoot    string
	historyPath string
	cachePath   string
	tokenPath   string
}

// Config represents the configuration for PathResolver.
type Config struct {
	// DataRoot is the directory for all local state (e.g., ~/.rentbooks)
	DataRoot string
	// HistoryPath is the SQLite run history file
	HistoryPath string
	// CachePath is the bbolt estimate cache file
	CachePath string
	// TokenPath is the OAuth token location; gs://bucket/object is kept as is
	TokenPath string
}

// New creates a new PathResolver with the given configuration.
// Empty paths default to files under DataRoot:
// history.db, cache.db and token.json.
func New(config Config) *PathResolver {
	root := config.DataRoot
	if root == "" {
		root = "data"
	}

	historyPath := config.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(root, "history.db")
	}

	cachePath := config.CachePath
	if cachePath == "" {
		cachePath = filepath.Join(root, "cache.db")
	}

	tokenPath := config.TokenPath
	if tokenPath == "" {
		tokenPath = filepath.Join(root, "token.json")
	}

	return &PathResolver{
		dataRoot:    root,
		historyPath: historyPath,
		cachePath:   cachePath,
		tokenPath:   tokenPath,
	}
}

// DataRoot returns the local data directory.
func (p *PathResolver) DataRoot() string {
	return p.dataRoot
}

// HistoryPath returns the run history database path.
func (p *PathResolver) HistoryPath() string {
	return p.historyPath
}

// CachePath returns the estimate cache path.
func (p *PathResolver) CachePath() string {
	return p.cachePath
}

// TokenPath returns the OAuth token location.
func (p *PathResolver) TokenPath() string {
	return p.tokenPath
}

// IsRemote reports whether path names a cloud storage object.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// EnsureDir creates a directory if it doesn't exist.
func (p *PathResolver) EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}

// EnsureParentDir ensures the parent directory of a local file exists.
// Remote paths are ignored.
func (p *PathResolver) EnsureParentDir(filePath string) error {
	if IsRemote(filePath) {
		return nil
	}
	return p.EnsureDir(filepath.Dir(filePath))
}

// FileExists checks if a file exists.
func (p *PathResolver) FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
