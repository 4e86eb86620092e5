// Package drive converts bill attachments to text and reads configuration
// files stored in Google Drive.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"

	"github.com/rentbooks/rentbooks/pkg/bills"
)

const (
	docMimeType  = "application/vnd.google-apps.document"
	textMimeType = "text/plain"

	// SourcePrefix marks a rules source stored in Drive, e.g. "drive:1AbC".
	SourcePrefix = "drive:"
)

// Converter keeps each attachment in the bill folder and extracts its text
// through a temporary Google Doc.
type Converter struct {
	service  *drive.Service
	folderID string
	logger   *slog.Logger
}

// NewConverter creates a Converter storing files under folderID.
func NewConverter(service *drive.Service, folderID string, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		service:  service,
		folderID: folderID,
		logger:   logger.With("component", "drive"),
	}
}

// ExtractText implements bills.Converter.
func (c *Converter) ExtractText(ctx context.Context, att bills.Attachment) (string, error) {
	var parents []string
	if c.folderID != "" {
		parents = []string{c.folderID}
	}

	kept, err := c.service.Files.Create(&drive.File{
		Name:     att.Filename,
		MimeType: att.MimeType,
		Parents:  parents,
	}).Media(bytes.NewReader(att.Data)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", att.Filename, err)
	}
	c.logger.Debug("Stored attachment", "file", att.Filename, "file_id", kept.Id)

	doc, err := c.service.Files.Create(&drive.File{
		Name:     att.Filename,
		MimeType: docMimeType,
		Parents:  parents,
	}).Media(bytes.NewReader(att.Data)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to convert %s: %w", att.Filename, err)
	}
	defer func() {
		if err := c.service.Files.Delete(doc.Id).Context(context.WithoutCancel(ctx)).Do(); err != nil {
			c.logger.Warn("Failed to delete converted document", "file_id", doc.Id, "error", err)
		}
	}()

	return c.export(ctx, doc.Id)
}

func (c *Converter) export(ctx context.Context, fileID string) (string, error) {
	resp, err := c.service.Files.Export(fileID, textMimeType).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("failed to export %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read export of %s: %w", fileID, err)
	}
	return string(data), nil
}

// File reads a Drive file's content. Google Docs are exported as text.
type File struct {
	service *drive.Service
	id      string
}

// NewFile returns the file with the given ID or "drive:" reference.
func NewFile(service *drive.Service, ref string) *File {
	return &File{service: service, id: strings.TrimPrefix(ref, SourcePrefix)}
}

// IsSource reports whether ref names a Drive file.
func IsSource(ref string) bool {
	return strings.HasPrefix(ref, SourcePrefix)
}

// Read implements utility.Source.
func (f *File) Read(ctx context.Context) ([]byte, error) {
	meta, err := f.service.Files.Get(f.id).Fields("id", "mimeType").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get drive file %s: %w", f.id, err)
	}

	var body io.ReadCloser
	if meta.MimeType == docMimeType {
		r, err := f.service.Files.Export(f.id, textMimeType).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("failed to export drive file %s: %w", f.id, err)
		}
		body = r.Body
	} else {
		r, err := f.service.Files.Get(f.id).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("failed to download drive file %s: %w", f.id, err)
		}
		body = r.Body
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read drive file %s: %w", f.id, err)
	}
	return data, nil
}
