// Package tasks files review reminders in Google Tasks.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/tasks/v1"

	"github.com/rentbooks/rentbooks/pkg/bills"
)

// DefaultList is the user's default task list.
const DefaultList = "@default"

// List creates tasks in one task list.
type List struct {
	service *tasks.Service
	listID  string
	logger  *slog.Logger
}

// New creates a List. An empty listID uses the default list.
func New(service *tasks.Service, listID string, logger *slog.Logger) *List {
	if listID == "" {
		listID = DefaultList
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &List{
		service: service,
		listID:  listID,
		logger:  logger.With("component", "tasks"),
	}
}

// CreateTask implements bills.TaskCreator.
func (l *List) CreateTask(ctx context.Context, task bills.Task) error {
	created, err := l.service.Tasks.Insert(l.listID, &tasks.Task{
		Title: task.Title,
		Notes: task.Notes,
		Due:   task.Due.UTC().Format(time.RFC3339),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to create task %q: %w", task.Title, err)
	}

	l.logger.Info("Created task", "title", task.Title, "task_id", created.Id)
	return nil
}
