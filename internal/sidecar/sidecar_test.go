package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/preview"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

const matchedModel = `{
	"id": 12, "title": "Hello", "description": "<p>First</p><p>Second</p>",
	"versions": [
		{"id": 1, "sha256": "ffff"},
		{"id": 34, "baseModel": "SDXL", "sha256webui": "%s", "activationTags": ["hi", "there"],
		 "images": [{"id": 5, "filePath": "/p/hello.png"}]}
	]
}`

func newCatalog(t *testing.T) (*api.Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("search") != helloSHA {
			fmt.Fprint(w, `{"data": []}`)
			return
		}
		fmt.Fprintf(w, `{"data": [`+matchedModel+`]}`, helloSHA)
	})
	mux.HandleFunc("/api/models/12", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, matchedModel, helloSHA)
	})
	mux.HandleFunc("/uploads/p/hello.thumbnail.webp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("preview"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := api.NewClient("", srv.Client(), models.Config{BaseURL: srv.URL + "/api"})
	client.MaxRetries = 1
	return client, srv
}

func TestGatherModelFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/lora/a.safetensors", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/m/lora/deep/b.CKPT", []byte("b"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/m/lora/notes.txt", []byte("c"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/m/vae/v.pt", []byte("d"), 0644))

	files, err := GatherModelFiles(fs, []string{"/m/lora", "/missing", "/m/vae"})
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{"/m/lora/a.safetensors", "/m/lora/deep/b.CKPT", "/m/vae/v.pt"}, files)
}

func TestScan_WritesSidecarAndPreview(t *testing.T) {
	client, srv := newCatalog(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/hello.safetensors", []byte("hello"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/m/unknown.pt", []byte("nope"), 0644))

	pool := preview.NewPool(srv.Client(), models.PreviewConfig{Concurrency: 1}, nil)
	gen := NewGenerator(client, pool, fs)

	summary, err := gen.Scan(context.Background(), []string{"/m"}, Options{Preview: true})
	require.NoError(t, err)
	assert.Equal(t, Summary{Found: 2, Written: 1, Previews: 1, Failed: 1}, summary)

	data, err := afero.ReadFile(fs, "/m/hello.json")
	require.NoError(t, err)
	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "12", info.ModelID)
	assert.Equal(t, "34", info.ModelVersionID)
	assert.Equal(t, "hi\n\nthere", info.ActivationText)
	assert.Equal(t, "First\n\nSecond", info.Description)
	assert.Equal(t, "SDXL", info.SDVersion)
	assert.Equal(t, strings.ToUpper(helloSHA), info.SHA256)

	png, err := afero.ReadFile(fs, "/m/hello.png")
	require.NoError(t, err)
	assert.Equal(t, "preview", string(png))

	// Everything is in place now, so a second pass skips the matched file.
	summary, err = gen.Scan(context.Background(), []string{"/m"}, Options{Preview: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Written)
}

func TestScan_Overwrite(t *testing.T) {
	client, _ := newCatalog(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/hello.safetensors", []byte("hello"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/m/hello.json", []byte("{}"), 0644))

	gen := NewGenerator(client, nil, fs)

	summary, err := gen.Scan(context.Background(), []string{"/m"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	summary, err = gen.Scan(context.Background(), []string{"/m"}, Options{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	data, _ := afero.ReadFile(fs, "/m/hello.json")
	assert.Contains(t, string(data), `"modelVersionId": "34"`)
}

func TestScan_ContextCancelled(t *testing.T) {
	client, _ := newCatalog(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/hello.safetensors", []byte("hello"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(client, nil, fs).Scan(ctx, []string{"/m"}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForDownload(t *testing.T) {
	client, _ := newCatalog(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "hello.safetensors")
	require.NoError(t, os.WriteFile(dest, []byte("hello"), 0644))

	gen := NewGenerator(client, nil, nil)
	item := models.DownloadItem{ID: "i1", ModelID: "12", VersionID: "34", URL: "https://example/x", Destination: dest}

	require.NoError(t, gen.ForDownload(context.Background(), item, nil))

	data, err := os.ReadFile(filepath.Join(dir, "hello.json"))
	require.NoError(t, err)
	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "34", info.ModelVersionID)
	assert.Equal(t, "https://example/x", info.SourceURL)
	assert.NotEmpty(t, info.BLAKE3)

	// Failed transfers and items without ids leave nothing behind.
	other := filepath.Join(dir, "other.pt")
	require.NoError(t, gen.ForDownload(context.Background(), models.DownloadItem{Destination: other}, nil))
	require.NoError(t, gen.ForDownload(context.Background(), models.DownloadItem{ModelID: "12", Destination: other}, errors.New("boom")))
	_, err = os.Stat(filepath.Join(dir, "other.json"))
	assert.True(t, os.IsNotExist(err))
}
