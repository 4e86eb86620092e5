package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"github.com/rentbooks/rentbooks/pkg/bills"
)

func TestList_CreateTask(t *testing.T) {
	var got tasks.Task
	var listID string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/v1/lists/{list}/tasks", func(w http.ResponseWriter, r *http.Request) {
		listID = r.PathValue("list")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"task-1"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := tasks.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	due := time.Date(2024, 3, 2, 9, 30, 0, 0, time.FixedZone("CST", -6*3600))
	err = New(svc, "", nil).CreateTask(context.Background(), bills.Task{
		Title: "Review Bill: Your water bill",
		Due:   due,
		Notes: "https://mail.google.com/mail/#all/t1",
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultList, listID)
	assert.Equal(t, "Review Bill: Your water bill", got.Title)
	assert.Equal(t, "https://mail.google.com/mail/#all/t1", got.Notes)
	assert.Equal(t, "2024-03-02T15:30:00Z", got.Due)
}
