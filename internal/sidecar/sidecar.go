// Package sidecar writes the <model>.json info files (and optional .png
// previews) that web UIs read next to model weights.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/helpers"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/preview"
	"go-arcenciel-browser/internal/render"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ModelExtensions are the weight file types a scan picks up.
var ModelExtensions = []string{".safetensors", ".ckpt", ".bin", ".pt"}

// hashSearchLimit bounds the catalog search used to match a file by hash.
const hashSearchLimit = 5

var (
	ErrNoMatch   = errors.New("no catalog version matches the file hash")
	ErrNoPreview = errors.New("no preview image available")
)

// Options control a Scan.
type Options struct {
	Overwrite bool // rewrite existing .json files
	Preview   bool // download a .png preview when missing
}

// Summary counts what a Scan did.
type Summary struct {
	Found    int
	Written  int
	Previews int
	Skipped  int
	Failed   int
}

// Generator matches model files against the catalog and writes sidecars.
type Generator struct {
	client   *api.Client
	pool     *preview.Pool
	renderer *render.Renderer
	fs       afero.Fs
}

// NewGenerator returns a Generator working on fs. pool may be nil when
// previews are never requested.
func NewGenerator(client *api.Client, pool *preview.Pool, fs afero.Fs) *Generator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Generator{
		client:   client,
		pool:     pool,
		renderer: render.New(client),
		fs:       fs,
	}
}

// BasePath strips the extension from a model file path.
func BasePath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath))
}

// GatherModelFiles walks every dir recursively and returns the model files
// found, in walk order. Missing directories are logged and skipped.
func GatherModelFiles(afs afero.Fs, dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		info, err := afs.Stat(dir)
		if err != nil || !info.IsDir() {
			log.Warnf("Path %s is not set or not a directory, skipping", dir)
			continue
		}
		err = afero.Walk(afs, dir, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if helpers.StringSliceContains(ModelExtensions, filepath.Ext(path)) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return files, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	return files, nil
}

// BuildInfo assembles the sidecar record for a matched version.
func (g *Generator) BuildInfo(model models.Model, v models.ModelVersion, hashes helpers.FileHashes, sourceURL string) models.ModelInfo {
	baseModel := v.BaseModel
	if baseModel == "" {
		baseModel = "Other"
	}
	modelID := model.ID.String()
	if modelID == "" {
		modelID = v.ModelID.String()
	}
	return models.ModelInfo{
		SHA256:         hashes.SHA256,
		BLAKE3:         hashes.BLAKE3,
		ModelID:        modelID,
		ModelVersionID: v.ID.String(),
		ActivationText: strings.Join(v.ActivationTags, "\n\n"),
		Description:    g.renderer.PlainText(model.Description),
		SDVersion:      baseModel,
		SourceURL:      sourceURL,
	}
}

// WriteInfo writes info as indented JSON to <base>.json.
func (g *Generator) WriteInfo(modelPath string, info models.ModelInfo) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding sidecar: %w", err)
	}
	path := BasePath(modelPath) + ".json"
	if err := afero.WriteFile(g.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// findMatch returns the first model/version whose sha256 or sha256webui
// equals sha, ignoring case.
func findMatch(resp models.SearchResponse, sha string) (models.Model, models.ModelVersion, bool) {
	for _, m := range resp.Data {
		for _, v := range m.Versions {
			if strings.EqualFold(v.SHA256, sha) || strings.EqualFold(v.SHA256WebUI, sha) {
				return m, v, true
			}
		}
	}
	return models.Model{}, models.ModelVersion{}, false
}

func (g *Generator) exists(path string) bool {
	ok, err := afero.Exists(g.fs, path)
	return err == nil && ok
}

// Scan processes every model file under dirs. Per-file failures are counted
// and logged; only a cancelled ctx or a failing walk stops the scan.
func (g *Generator) Scan(ctx context.Context, dirs []string, opts Options) (Summary, error) {
	files, err := GatherModelFiles(g.fs, dirs)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Found: len(files)}
	log.Infof("Found %d model files. Beginning checks...", len(files))

	for idx, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		logger := log.WithField("file", filepath.Base(path))
		logger.Infof("[%d/%d] Checking", idx+1, len(files))

		wrote, previewed, err := g.processFile(ctx, path, opts)
		switch {
		case err != nil:
			summary.Failed++
			logger.WithError(err).Warn("Skipping")
		case !wrote && !previewed:
			summary.Skipped++
		}
		if wrote {
			summary.Written++
		}
		if previewed {
			summary.Previews++
		}
	}
	return summary, nil
}

func (g *Generator) processFile(ctx context.Context, path string, opts Options) (wrote, previewed bool, err error) {
	base := BasePath(path)
	needJSON := opts.Overwrite || !g.exists(base+".json")
	needPreview := opts.Preview && !g.exists(base+".png")
	if !needJSON && !needPreview {
		log.Debugf("Nothing to do for %s", filepath.Base(path))
		return false, false, nil
	}

	f, err := g.fs.Open(path)
	if err != nil {
		return false, false, fmt.Errorf("opening %s: %w", path, err)
	}
	hashes, err := helpers.HashReader(f)
	f.Close()
	if err != nil {
		return false, false, fmt.Errorf("hashing %s: %w", path, err)
	}

	resp, err := g.client.SearchModels(ctx, models.SearchParameters{Query: strings.ToLower(hashes.SHA256), Limit: hashSearchLimit})
	if err != nil {
		return false, false, err
	}
	model, version, ok := findMatch(resp, hashes.SHA256)
	if !ok {
		return false, false, ErrNoMatch
	}

	if needJSON {
		out, err := g.WriteInfo(path, g.BuildInfo(model, version, hashes, ""))
		if err != nil {
			return false, false, err
		}
		log.Infof("Wrote JSON => %s", filepath.Base(out))
		wrote = true
	}

	if needPreview {
		if err := g.savePreview(ctx, base+".png", version); err != nil {
			return wrote, false, err
		}
		previewed = true
	}
	return wrote, previewed, nil
}

func (g *Generator) savePreview(ctx context.Context, dest string, v models.ModelVersion) error {
	if g.pool == nil {
		return ErrNoPreview
	}
	imgPath := models.Model{Versions: models.VersionList{v}}.FirstImagePath()
	if imgPath == "" {
		return ErrNoPreview
	}
	res := g.pool.FetchAll(ctx, []preview.Request{{Key: dest, URL: g.client.ThumbnailURL(imgPath)}})[dest]
	if res.Err != nil {
		return fmt.Errorf("%w: %v", ErrNoPreview, res.Err)
	}
	if err := afero.WriteFile(g.fs, dest, res.Data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	log.Infof("Downloaded preview => %s", filepath.Base(dest))
	return nil
}

// ForDownload writes the sidecar for a file the queue just finished. It is
// meant as the queue's completion hook, so failed or cancelled transfers
// and items without catalog ids are ignored.
func (g *Generator) ForDownload(ctx context.Context, item models.DownloadItem, transferErr error) error {
	if transferErr != nil || item.ModelID == "" {
		return nil
	}
	if _, err := os.Stat(item.Destination); err != nil {
		return nil
	}

	model, err := g.client.GetModelDetails(ctx, item.ModelID)
	if err != nil {
		return fmt.Errorf("fetching model %s: %w", item.ModelID, err)
	}
	version, ok := findVersion(model.Versions, item.VersionID)
	if !ok {
		versions, err := g.client.GetModelVersions(ctx, item.ModelID)
		if err != nil {
			return fmt.Errorf("fetching versions of %s: %w", item.ModelID, err)
		}
		if version, ok = findVersion(versions, item.VersionID); !ok {
			version = models.ModelVersion{ID: models.FlexString(item.VersionID)}
		}
	}

	hashes, err := helpers.HashFile(item.Destination)
	if err != nil {
		return err
	}
	out, err := g.WriteInfo(item.Destination, g.BuildInfo(model, version, hashes, item.URL))
	if err != nil {
		return err
	}
	log.WithField("item", item.ID).Infof("Wrote model info %s", filepath.Base(out))
	return nil
}

func findVersion(versions models.VersionList, id string) (models.ModelVersion, bool) {
	for _, v := range versions {
		if id != "" && v.ID.String() == id {
			return v, true
		}
	}
	return models.ModelVersion{}, false
}
