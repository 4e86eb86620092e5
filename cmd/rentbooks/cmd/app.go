package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	drivev3 "google.golang.org/api/drive/v3"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
	tasksv1 "google.golang.org/api/tasks/v1"

	"github.com/rentbooks/rentbooks/internal/google/auth"
	"github.com/rentbooks/rentbooks/internal/google/drive"
	"github.com/rentbooks/rentbooks/internal/google/gcs"
	"github.com/rentbooks/rentbooks/internal/google/gmail"
	"github.com/rentbooks/rentbooks/internal/google/sheets"
	"github.com/rentbooks/rentbooks/internal/google/tasks"
	"github.com/rentbooks/rentbooks/pkg/books"
	"github.com/rentbooks/rentbooks/pkg/config"
	"github.com/rentbooks/rentbooks/pkg/db"
	"github.com/rentbooks/rentbooks/pkg/estimate"
	"github.com/rentbooks/rentbooks/pkg/pathutil"
	"github.com/rentbooks/rentbooks/pkg/utility"
)

// requiredGoogle are the settings every Google-backed command needs.
var requiredGoogle = [][]string{
	{"operator", "email"},
	{"google", "credentialsPath"},
	{"sheets", "duplexSpreadsheetId"},
	{"sheets", "mainSpreadsheetId"},
}

// app holds the collaborators of one CLI invocation.
type app struct {
	cfg      *config.Config
	paths    *pathutil.PathResolver
	conn     *db.Connection
	history  *db.History
	cache    *estimate.Cache
	deps     books.Deps
	location *time.Location
	logger   *slog.Logger
}

// loadConfig loads and validates the configuration.
func loadConfig(required ...[]string) (*config.Config, *pathutil.PathResolver) {
	cfg, err := config.Load(cfgFile)
	exitOnError(err, "failed to load configuration")

	if err := cfg.Validate(required...); err != nil {
		exitOnError(err, "invalid configuration")
	}

	paths := pathutil.New(pathutil.Config{
		DataRoot:  cfg.DataRoot,
		TokenPath: cfg.Google.TokenPath,
	})
	return cfg, paths
}

// openApp connects to Google and opens the local stores.
func openApp(ctx context.Context, extra ...[]string) (*app, error) {
	cfg, paths := loadConfig(append(append([][]string{}, requiredGoogle...), extra...)...)
	logger := slog.Default()

	a := &app{cfg: cfg, paths: paths, logger: logger}

	if err := paths.EnsureDir(paths.DataRoot()); err != nil {
		return nil, err
	}

	logger.Debug("Opening history", "path", paths.HistoryPath())
	conn, err := db.Open(paths.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.conn = conn
	a.history = db.NewHistory(conn)

	cache, err := estimate.OpenCache(paths.CachePath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open estimate cache: %w", err)
	}
	a.cache = cache

	client, err := auth.HTTPClient(ctx, auth.Config{
		CredentialsPath: cfg.Google.CredentialsPath,
		Storage:         auth.NewTokenStorage(paths.TokenPath()),
		Logger:          logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.connect(ctx, option.WithHTTPClient(client)); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context, opts ...option.ClientOption) error {
	gmailSvc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Gmail service: %w", err)
	}
	sheetsSvc, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Sheets service: %w", err)
	}
	driveSvc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Drive service: %w", err)
	}
	tasksSvc, err := tasksv1.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Tasks service: %w", err)
	}

	mailbox := gmail.New(gmailSvc, a.logger)
	duplex := sheets.New(sheetsSvc, a.cfg.Sheets.DuplexSpreadsheetID, a.logger)
	main := sheets.New(sheetsSvc, a.cfg.Sheets.MainSpreadsheetID, a.logger)

	a.location, err = a.resolveLocation(ctx, duplex)
	if err != nil {
		return err
	}

	a.deps = books.Deps{
		Identity:    mailbox,
		Rules:       rulesSource(a.cfg.Google.RulesSource, driveSvc),
		Mailbox:     mailbox,
		Converter:   drive.NewConverter(driveSvc, a.cfg.Google.BillFolderID, a.logger),
		Tasks:       tasks.New(tasksSvc, a.cfg.Google.TaskListID, a.logger),
		Sender:      mailbox,
		DuplexSheet: duplex,
		MainSheet:   main,
		Estimates:   a.estimator(),
		History:     a.history,
	}
	return nil
}

// resolveLocation prefers the configured zone, then the Duplex workbook's.
func (a *app) resolveLocation(ctx context.Context, duplex *sheets.Workbook) (*time.Location, error) {
	if a.cfg.Timezone != "" {
		loc, err := time.LoadLocation(a.cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
		return loc, nil
	}
	loc, err := duplex.Location(ctx)
	if err != nil {
		a.logger.Warn("Using local time zone", "error", err)
		return time.Local, nil
	}
	return loc, nil
}

// estimator builds the property estimator over the local cache.
func (a *app) estimator() *estimate.Estimator {
	var fetcher estimate.Fetcher = estimate.NewHTTPFetcher()
	if a.cfg.Property.RenderPages {
		fetcher = &estimate.ChromeFetcher{}
	}
	return estimate.NewEstimator(fetcher, a.cache, a.cfg.Property.PurchasePrice, a.logger)
}

// rulesSource picks the reader for the rule blob reference.
func rulesSource(ref string, driveSvc *drivev3.Service) utility.Source {
	switch {
	case drive.IsSource(ref):
		return drive.NewFile(driveSvc, ref)
	case pathutil.IsRemote(ref):
		return gcs.Object(ref)
	default:
		return utility.FileSource(ref)
	}
}

// newRun starts a books run for this invocation.
func (a *app) newRun() *books.Run {
	return books.New(a.cfg, a.deps, a.location, books.WithLogger(a.logger))
}

// Close releases the local stores.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("Failed to close estimate cache", "error", err)
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("Failed to close history", "error", err)
		}
	}
}
