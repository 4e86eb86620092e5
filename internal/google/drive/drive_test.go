package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func newTestService(t *testing.T, handler http.Handler) *drive.Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return svc
}

func TestIsSource(t *testing.T) {
	assert.True(t, IsSource("drive:1AbC"))
	assert.False(t, IsSource("gs://bucket/rules.yaml"))
	assert.False(t, IsSource("rules.yaml"))
}

func TestFile_Read(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/v3/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if r.URL.Query().Get("alt") == "media" {
			_, _ = w.Write([]byte("- id: Water\n"))
			return
		}
		mimeType := "application/x-yaml"
		if id == "doc-1" {
			mimeType = docMimeType
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + id + `","mimeType":"` + mimeType + `"}`))
	})
	mux.HandleFunc("GET /drive/v3/files/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, textMimeType, r.URL.Query().Get("mimeType"))
		_, _ = w.Write([]byte("- id: Electric\n"))
	})

	svc := newTestService(t, mux)
	ctx := context.Background()

	data, err := NewFile(svc, "drive:file-1").Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "- id: Water\n", string(data))

	data, err = NewFile(svc, "doc-1").Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "- id: Electric\n", string(data))
}

func TestFile_ReadNotFound(t *testing.T) {
	svc := newTestService(t, http.NotFoundHandler())
	_, err := NewFile(svc, "drive:missing").Read(context.Background())
	assert.Error(t, err)
}
