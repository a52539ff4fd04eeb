package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
	"go-arcenciel-browser/internal/preview"
	"go-arcenciel-browser/internal/render"

	"github.com/labstack/echo/v5"
	log "github.com/sirupsen/logrus"
)

// DownloadRequest is the body posted by the "Download with Extension" button.
type DownloadRequest struct {
	ModelID   models.FlexString `json:"model_id"`
	VersionID models.FlexString `json:"version_id"`
	ModelType string            `json:"model_type"`
	URL       string            `json:"url"`
	FileName  string            `json:"file_name"`
	Subfolder string            `json:"subfolder,omitempty"`
}

// SearchItem is one card of a search page.
type SearchItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Uploader        string `json:"uploader"`
	LatestVersionID string `json:"latestVersionId,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	Preview         string `json:"preview,omitempty"`
}

// SearchPage is the /search response.
type SearchPage struct {
	Items      []SearchItem `json:"items"`
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	TotalCount int          `json:"totalCount"`
}

func errorJSON(c *echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) handleDownload(c *echo.Context) error {
	var req DownloadRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return errorJSON(c, http.StatusBadRequest, "No download URL provided")
	}

	presets, err := s.presets.Load()
	if err != nil {
		// Defaults are still returned alongside the error.
		log.WithError(err).Warn("Using default path presets")
	}

	dest, err := paths.ResolveDestination(presets, req.ModelType, req.Subfolder, req.FileName)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	modelID, versionID := req.ModelID.String(), req.VersionID.String()
	item := s.queue.Enqueue(models.DownloadItem{
		ModelID:     modelID,
		VersionID:   versionID,
		URL:         s.client.RewriteDownloadURL(req.URL, modelID, versionID),
		Destination: dest,
	})
	s.queue.Start()

	log.WithFields(log.Fields{"item": item.ID, "model": modelID, "version": versionID}).
		Infof("Queued %s", filepath.Base(dest))

	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Queued download: %s", filepath.Base(dest)),
		"path":    dest,
		"id":      item.ID,
	})
}

func (s *Server) handlePing(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModelDetails(c *echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	model, err := s.client.GetModelDetails(ctx, id)
	if err != nil {
		log.WithError(err).Warnf("Fetching model %s", id)
		return c.HTML(http.StatusOK, render.ErrorFragment(err))
	}

	var images []models.Image
	if gallery, err := s.client.GetModelGallery(ctx, id); err != nil {
		log.WithError(err).Debugf("No gallery for model %s", id)
	} else {
		images = gallery.Data
	}

	out, err := s.renderer.ModelDetails(model, images)
	if err != nil {
		return c.HTML(http.StatusInternalServerError, render.ErrorFragment(err))
	}
	return c.HTML(http.StatusOK, out)
}

func (s *Server) handleImageDetails(c *echo.Context) error {
	id := c.Param("id")
	img, err := s.client.GetImageDetails(c.Request().Context(), id)
	if err != nil {
		log.WithError(err).Warnf("Fetching image %s", id)
		return c.HTML(http.StatusOK, render.ErrorFragment(err))
	}
	out, err := s.renderer.ImageDetails(img)
	if err != nil {
		return c.HTML(http.StatusInternalServerError, render.ErrorFragment(err))
	}
	return c.HTML(http.StatusOK, out)
}

func (s *Server) handleQueue(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleCancelAll(c *echo.Context) error {
	s.queue.CancelAll()
	return c.JSON(http.StatusOK, map[string]string{"message": "All downloads cancelled"})
}

func queryInt(c *echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleSearch(c *echo.Context) error {
	ctx := c.Request().Context()
	params := models.SearchParameters{
		Query:     c.QueryParam("q"),
		Sort:      c.QueryParam("sort"),
		BaseModel: c.QueryParam("base_model"),
		ModelType: c.QueryParam("model_type"),
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
	}

	resp, err := s.client.SearchModels(ctx, params)
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}

	page := SearchPage{
		Items:      make([]SearchItem, 0, len(resp.Data)),
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
		TotalCount: resp.TotalCount,
	}
	var reqs []preview.Request
	for _, m := range resp.Data {
		item := SearchItem{
			ID:           m.ID.String(),
			Title:        m.Title,
			Type:         m.Type,
			Uploader:     m.Uploader.Username,
			ThumbnailURL: s.client.ThumbnailURL(m.FirstImagePath()),
		}
		if v := m.LatestVersion(); v != nil {
			item.LatestVersionID = v.ID.String()
		}
		page.Items = append(page.Items, item)
		reqs = append(reqs, preview.Request{Key: item.ID, URL: item.ThumbnailURL})
	}

	if s.previews != nil && len(reqs) > 0 {
		results := s.previews.FetchAll(ctx, reqs)
		for i := range page.Items {
			r, ok := results[page.Items[i].ID]
			if !ok || r.Err != nil {
				continue
			}
			page.Items[i].Preview = r.DataURL()
		}
	}

	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetPaths(c *echo.Context) error {
	presets, err := s.presets.Load()
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, presets)
}

func (s *Server) handleSetPaths(c *echo.Context) error {
	var updates map[string]string
	if err := json.NewDecoder(c.Request().Body).Decode(&updates); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	presets, err := s.presets.Set(updates)
	if errors.Is(err, paths.ErrUnknownType) {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, presets)
}
