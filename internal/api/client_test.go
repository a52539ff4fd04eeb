package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go-arcenciel-browser/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-key", server.Client(), models.Config{BaseURL: server.URL + "/api"})
	client.RetryBackoff = time.Millisecond
	return client
}

// TestNewClient tests the API client creation
func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key", nil, models.Config{})

	assert.Equal(t, "test-api-key", client.ApiKey)
	assert.Equal(t, DefaultBaseURL, client.BaseURL)
	require.NotNil(t, client.HttpClient)
	assert.Equal(t, 20*time.Second, client.HttpClient.Timeout)

	client = NewClient("", nil, models.Config{APIClientTimeoutSec: 5, BaseURL: "http://x/api/"})
	assert.Equal(t, 5*time.Second, client.HttpClient.Timeout)
	assert.Equal(t, "http://x/api", client.BaseURL)
}

func TestSearchModels_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/models/search", r.URL.Path)
		assert.Equal(t, "anime", r.URL.Query().Get("search"))
		assert.Equal(t, "newest", r.URL.Query().Get("sort"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "12", r.URL.Query().Get("limit"))
		assert.Equal(t, "LORA", r.URL.Query().Get("modelType"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":7,"title":"Seven","versions":[]}],"totalPages":3}`))
	})

	resp, err := client.SearchModels(context.Background(), models.SearchParameters{
		Query:     "anime",
		Page:      2,
		ModelType: "LORA",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "7", resp.Data[0].ID.String())
	assert.Equal(t, 3, resp.TotalPages)
}

func TestGetModelVersions_BothShapes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/models/1/versions":
			w.Write([]byte(`[{"id":10}]`))
		case "/api/models/2/versions":
			w.Write([]byte(`{"versions":[{"id":20},{"id":21}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	v1, err := client.GetModelVersions(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, v1, 1)

	v2, err := client.GetModelVersions(context.Background(), "2")
	require.NoError(t, err)
	assert.Len(t, v2, 2)
}

func TestGetModelDetails_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrUnauthorized},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrServerError},
		{name: "bad json", status: http.StatusOK, body: `{not json`, wantErr: ErrBadResponse},
		{name: "missing id", status: http.StatusOK, body: `{"title":"x"}`, wantErr: ErrBadResponse},
		{name: "other client error", status: http.StatusTeapot, wantErr: ErrRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			model, err := client.GetModelDetails(context.Background(), "5")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, models.Model{}, model)
		})
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var attempts int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":3,"title":"ok"}`))
	})

	model, err := client.GetModelDetails(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "ok", model.Title)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGetJSON_NoRetryOnNotFound(t *testing.T) {
	var attempts int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetImageDetails(context.Background(), "9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGetJSON_NetworkFailure(t *testing.T) {
	client := NewClient("", &http.Client{Timeout: time.Second}, models.Config{BaseURL: "http://127.0.0.1:1/api"})
	client.MaxRetries = 1

	_, err := client.GetModelGallery(context.Background(), "1")
	assert.ErrorIs(t, err, ErrRequest)
}

func TestGetImageDetails_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/images/42/info", r.URL.Path)
		w.Write([]byte(`{"id":42,"filePath":"/a/b.png","prompt":"cat","seed":123,"steps":"20","cfg":7.5}`))
	})

	img, err := client.GetImageDetails(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "cat", img.Prompt)
	assert.Equal(t, "123", img.Seed.String())
	assert.Equal(t, "20", img.Steps.String())
	assert.Equal(t, "7.5", img.CFG.String())
}

func TestURLHelpers(t *testing.T) {
	client := NewClient("", nil, models.Config{BaseURL: "https://arcenciel.io/api"})

	assert.Equal(t, "https://arcenciel.io", client.SiteURL())
	assert.Equal(t, "https://arcenciel.io/uploads/u/1/img.png", client.UploadsURL("/u/1/img.png"))
	assert.Equal(t, "https://arcenciel.io/uploads/u/1/img.thumbnail.webp", client.ThumbnailURL("/u/1/img.png"))
	assert.Equal(t, "", client.ThumbnailURL(""))
	assert.Equal(t, "https://arcenciel.io/api/models/5/versions/9/download", client.OfficialDownloadURL("5", "9"))
}

func TestRewriteDownloadURL(t *testing.T) {
	client := NewClient("", nil, models.Config{BaseURL: "https://arcenciel.io/api"})

	official := "https://arcenciel.io/api/models/5/versions/9/download"
	assert.Equal(t, official, client.RewriteDownloadURL("https://ArcEnCiel.io/uploads/file.safetensors", "5", "9"))
	assert.Equal(t, "https://arcenciel.io/x", client.RewriteDownloadURL("https://arcenciel.io/x", "", "9"))
	assert.Equal(t, "https://huggingface.co/a/b.pt", client.RewriteDownloadURL("https://huggingface.co/a/b.pt", "5", "9"))
}

func TestVersionDownloadURLAndFileName(t *testing.T) {
	client := NewClient("", nil, models.Config{BaseURL: "https://arcenciel.io/api"})

	external := models.ModelVersion{ID: "9", ExternalDownloadURL: "https://hf.co/repo/resolve/main/My%20Model.safetensors?download=1"}
	assert.Equal(t, external.ExternalDownloadURL, client.VersionDownloadURL("5", external))
	assert.Equal(t, "My Model.safetensors", VersionFileName(external))

	internal := models.ModelVersion{ID: "9", ModelID: "6", FileName: "declared.pt"}
	assert.Equal(t, "https://arcenciel.io/api/models/6/versions/9/download", client.VersionDownloadURL("5", internal))
	assert.Equal(t, "declared.pt", VersionFileName(internal))

	assert.Equal(t, "", VersionFileName(models.ModelVersion{}))
}

func TestLoggingTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"title":"logged"}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	lt, err := NewLoggingTransport(nil, "api.log")
	require.NoError(t, err)

	client := NewClient("", &http.Client{Transport: lt}, models.Config{BaseURL: server.URL + "/api"})
	model, err := client.GetModelDetails(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "logged", model.Title)

	CloseAllLoggingTransports()

	data, err := os.ReadFile(filepath.Join(dir, "api.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "--- Request")
	assert.Contains(t, string(data), `"title":"logged"`)
}
