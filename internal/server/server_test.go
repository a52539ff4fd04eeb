package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
	"go-arcenciel-browser/internal/preview"
	"go-arcenciel-browser/internal/queue"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	items    []models.DownloadItem
	starts   int
	canceled int
}

func (q *fakeQueue) Enqueue(item models.DownloadItem) models.DownloadItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.ID = fmt.Sprintf("item-%d", len(q.items)+1)
	q.items = append(q.items, item)
	return item
}

func (q *fakeQueue) Start() {
	q.mu.Lock()
	q.starts++
	q.mu.Unlock()
}

func (q *fakeQueue) CancelAll() {
	q.mu.Lock()
	q.canceled++
	q.items = nil
	q.mu.Unlock()
}

func (q *fakeQueue) Snapshot() queue.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Snapshot{Pending: len(q.items)}
}

const modelJSON = `{
	"id": 5, "title": "Neon Style", "type": "LORA", "description": "**bright**",
	"uploader": {"username": "artist"},
	"versions": [{"id": 9, "versionName": "v1", "fileName": "neon.safetensors", "createdAt": "2024-01-01",
		"images": [{"id": 1, "filePath": "/img/neon.png"}]}]
}`

func newCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "neon", r.URL.Query().Get("search"))
		fmt.Fprintf(w, `{"data": [%s, {"id": 6, "title": "No Images"}], "page": 1, "totalPages": 1, "totalCount": 2}`, modelJSON)
	})
	mux.HandleFunc("/api/models/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelJSON)
	})
	mux.HandleFunc("/api/models/5/gallery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 77, "filePath": "/g/one.jpg"}]}`)
	})
	mux.HandleFunc("/api/images/42/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 42, "filePath": "/g/one.jpg", "prompt": "neon city", "seed": 1234}`)
	})
	mux.HandleFunc("/uploads/img/neon.thumbnail.webp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("thumb"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, *fakeQueue, *api.Client, *httptest.Server) {
	t.Helper()
	catalog := newCatalog(t)
	client := api.NewClient("", catalog.Client(), models.Config{BaseURL: catalog.URL + "/api"})
	client.MaxRetries = 1
	q := &fakeQueue{}
	store := paths.NewStoreWithFs(afero.NewMemMapFs(), paths.DefaultFileName)
	pool := preview.NewPool(catalog.Client(), models.PreviewConfig{Concurrency: 2}, nil)
	return New(client, q, store, pool), q, client, catalog
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/arcenciel/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDownload_QueuesAndRewrites(t *testing.T) {
	s, q, client, catalog := newTestServer(t)

	body := fmt.Sprintf(`{"model_id": 5, "version_id": "9", "model_type": "lora", "url": "%s/files/neon", "file_name": "sub/neon.safetensors"}`, catalog.URL)
	rec := do(t, s, http.MethodPost, "/arcenciel/download_with_extension", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	want, err := filepath.Abs(filepath.Join("models", "lora", "sub_neon.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, want, resp["path"])
	assert.Contains(t, resp["message"], "sub_neon.safetensors")

	require.Len(t, q.items, 1)
	assert.Equal(t, client.OfficialDownloadURL("5", "9"), q.items[0].URL)
	assert.Equal(t, "5", q.items[0].ModelID)
	assert.Equal(t, "9", q.items[0].VersionID)
	assert.Equal(t, want, q.items[0].Destination)
	assert.Equal(t, 1, q.starts)
}

func TestDownload_ExternalURLAndFallbacks(t *testing.T) {
	s, q, _, _ := newTestServer(t)

	body := `{"model_type": "weird", "url": "https://hf.co/x/file.pt", "subfolder": "../../etc"}`
	rec := do(t, s, http.MethodPost, "/arcenciel/download_with_extension", body)
	require.Equal(t, http.StatusOK, rec.Code)

	want, err := filepath.Abs(filepath.Join("models", "other", "etc", "UnknownFile"))
	require.NoError(t, err)
	require.Len(t, q.items, 1)
	assert.Equal(t, "https://hf.co/x/file.pt", q.items[0].URL)
	assert.Equal(t, want, q.items[0].Destination)
}

func TestDownload_MissingURL(t *testing.T) {
	s, q, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/arcenciel/download_with_extension", `{"model_id": "1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	rec = do(t, s, http.MethodPost, "/arcenciel/download_with_extension", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, q.items)
	assert.Equal(t, 0, q.starts)
}

func TestModelDetails(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/arcenciel/model_details/5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "Neon Style (ID: 5)")
	assert.Contains(t, out, "<strong>bright</strong>")
	assert.Contains(t, out, `data-image-id="77"`)
	assert.Contains(t, out, `data-file-name="neon.safetensors"`)

	rec = do(t, s, http.MethodGet, "/arcenciel/model_details/404", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<div>Error: "))
}

func TestImageDetails(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/arcenciel/image_details/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Image ID: 42")
	assert.Contains(t, rec.Body.String(), "neon city")
	assert.Contains(t, rec.Body.String(), "1234")

	rec = do(t, s, http.MethodGet, "/arcenciel/image_details/999", "")
	assert.Contains(t, rec.Body.String(), "<div>Error: ")
}

func TestQueueAndCancelAll(t *testing.T) {
	s, q, _, _ := newTestServer(t)
	q.Enqueue(models.DownloadItem{URL: "u"})

	rec := do(t, s, http.MethodGet, "/arcenciel/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":1,"downloading":false,"canceled":false}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/arcenciel/cancel_all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, q.canceled)
	assert.Empty(t, q.items)
}

func TestSearch(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/arcenciel/search?q=neon", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page SearchPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalCount)

	first := page.Items[0]
	assert.Equal(t, "5", first.ID)
	assert.Equal(t, "9", first.LatestVersionID)
	assert.Equal(t, "data:image/webp;base64,dGh1bWI=", first.Preview)

	assert.Equal(t, "6", page.Items[1].ID)
	assert.Empty(t, page.Items[1].Preview)
}

func TestPaths(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/arcenciel/paths", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var presets map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &presets))
	assert.Equal(t, filepath.Join("models", "vae"), presets["VAE"])

	rec = do(t, s, http.MethodPost, "/arcenciel/paths", `{"vae": "/data/vae"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &presets))
	assert.Equal(t, "/data/vae", presets["VAE"])

	rec = do(t, s, http.MethodPost, "/arcenciel/paths", `{"NOPE": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
