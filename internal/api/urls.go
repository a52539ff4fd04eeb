package api

import (
	"net/url"
	"path"
	"strings"

	"go-arcenciel-browser/internal/models"
)

// SiteURL is the catalog host root (the API base without its /api suffix).
func (c *Client) SiteURL() string {
	return strings.TrimSuffix(strings.TrimRight(c.BaseURL, "/"), "/api")
}

// UploadsURL returns the full-size URL of an uploaded image.
func (c *Client) UploadsURL(filePath string) string {
	filePath = strings.TrimLeft(filePath, "/")
	if filePath == "" {
		return ""
	}
	return c.SiteURL() + "/uploads/" + filePath
}

// ThumbnailURL derives the thumbnail of an uploaded image: the file path with
// its extension replaced by ".thumbnail.webp".
func (c *Client) ThumbnailURL(filePath string) string {
	filePath = strings.TrimLeft(filePath, "/")
	if filePath == "" {
		return ""
	}
	base := strings.TrimSuffix(filePath, path.Ext(filePath))
	return c.SiteURL() + "/uploads/" + base + ".thumbnail.webp"
}

// OfficialDownloadURL is the catalog's own download route for a version.
func (c *Client) OfficialDownloadURL(modelID, versionID string) string {
	return c.BaseURL + "/models/" + url.PathEscape(modelID) + "/versions/" + url.PathEscape(versionID) + "/download"
}

// RewriteDownloadURL replaces a URL pointing at the catalog host with the
// official download route when both ids are known. Other URLs pass through.
func (c *Client) RewriteDownloadURL(rawURL, modelID, versionID string) string {
	if modelID == "" || versionID == "" {
		return rawURL
	}
	site, err := url.Parse(c.SiteURL())
	if err != nil || site.Host == "" {
		return rawURL
	}
	if strings.Contains(strings.ToLower(rawURL), strings.ToLower(site.Host)) {
		return c.OfficialDownloadURL(modelID, versionID)
	}
	return rawURL
}

// VersionDownloadURL prefers a version's external URL and otherwise uses the
// official route.
func (c *Client) VersionDownloadURL(modelID string, v models.ModelVersion) string {
	if v.ExternalDownloadURL != "" {
		return v.ExternalDownloadURL
	}
	if v.ModelID != "" {
		modelID = v.ModelID.String()
	}
	return c.OfficialDownloadURL(modelID, v.ID.String())
}

// VersionFileName returns the declared file name of a version or, failing
// that, the unescaped last segment of its external URL.
func VersionFileName(v models.ModelVersion) string {
	if v.FileName != "" {
		return v.FileName
	}
	if v.ExternalDownloadURL == "" {
		return ""
	}
	u, err := url.Parse(v.ExternalDownloadURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "/" || name == "." {
		return ""
	}
	return name
}
