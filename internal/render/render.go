// Package render builds the HTML fragments the browser-side script injects
// into the model and image detail panels.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// URLBuilder derives catalog URLs. *api.Client implements it.
type URLBuilder interface {
	UploadsURL(filePath string) string
	ThumbnailURL(filePath string) string
	VersionDownloadURL(modelID string, v models.ModelVersion) string
}

// Renderer turns catalog records into HTML.
type Renderer struct {
	urls URLBuilder
	md   goldmark.Markdown
}

// New returns a Renderer. Raw HTML inside descriptions is dropped by the
// markdown renderer.
func New(urls URLBuilder) *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithXHTML(),
		),
	)
	return &Renderer{urls: urls, md: md}
}

// ErrorFragment is what a route answers when the catalog call failed.
func ErrorFragment(err error) string {
	return "<div>Error: " + html.EscapeString(err.Error()) + "</div>"
}

// Markdown converts a description to HTML. Conversion errors fall back to
// escaped text.
func (r *Renderer) Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<p>" + html.EscapeString(src) + "</p>")
	}
	// #nosec G203 -- goldmark output with raw HTML disabled
	return template.HTML(buf.String())
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	blankPattern = regexp.MustCompile(`\n\s*\n+`)
	blockClose   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|ul|ol|pre|blockquote)>`)
	lineBreak    = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// PlainText reduces a markdown or HTML description to readable text with
// paragraphs separated by one blank line.
func (r *Renderer) PlainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	text := src
	// Descriptions are either HTML already or markdown.
	if !tagPattern.MatchString(src) {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(src), &buf); err == nil {
			text = buf.String()
		}
	}
	text = lineBreak.ReplaceAllString(text, "\n")
	text = blockClose.ReplaceAllString(text, "\n\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// GalleryImages picks what to show in the gallery: the dedicated gallery,
// else the pinned images, else every version's images.
func GalleryImages(model models.Model, gallery []models.Image) []models.Image {
	if len(gallery) > 0 {
		return gallery
	}
	if len(model.PinnedImages) > 0 {
		return model.PinnedImages
	}
	var all []models.Image
	for _, v := range model.Versions {
		all = append(all, v.Images...)
	}
	return all
}

type galleryItem struct {
	ID       string
	ThumbURL string
}

type versionBlock struct {
	ID          string
	Name        string
	BaseModel   string
	Triggers    string
	About       template.HTML
	DownloadURL string
	FileName    string
}

type modelPage struct {
	ID          string
	Title       string
	Type        string
	Tags        string
	Uploader    string
	Description template.HTML
	Gallery     []galleryItem
	Versions    []versionBlock
}

// ModelDetails renders the full detail panel for a model.
func (r *Renderer) ModelDetails(model models.Model, gallery []models.Image) (string, error) {
	if model.ID == "" {
		return "<div>Empty or invalid model data.</div>", nil
	}

	page := modelPage{
		ID:          model.ID.String(),
		Title:       orDefault(model.Title, "Unknown Title"),
		Type:        orDefault(model.Type, "Unknown Type"),
		Uploader:    orDefault(model.Uploader.Username, "N/A"),
		Description: r.Markdown(orDefault(model.Description, "No description available.")),
	}

	tagNames := make([]string, 0, len(model.Tags))
	for _, t := range model.Tags {
		tagNames = append(tagNames, orDefault(t.Name, "???"))
	}
	page.Tags = strings.Join(tagNames, ", ")

	for _, img := range GalleryImages(model, gallery) {
		page.Gallery = append(page.Gallery, galleryItem{ID: img.ID.String(), ThumbURL: r.urls.ThumbnailURL(img.FilePath)})
	}

	for _, v := range model.Versions {
		block := versionBlock{
			ID:          v.ID.String(),
			Name:        orDefault(v.VersionName, "Unnamed version"),
			BaseModel:   orDefault(v.BaseModel, "Unknown base"),
			Triggers:    strings.Join(v.ActivationTags, ", "),
			DownloadURL: r.urls.VersionDownloadURL(page.ID, v),
			FileName:    orDefault(api.VersionFileName(v), "Unknown file"),
		}
		if v.AboutThisVersion != "" {
			block.About = r.Markdown(v.AboutThisVersion)
		}
		page.Versions = append(page.Versions, block)
	}

	var buf bytes.Buffer
	if err := modelTemplate.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("rendering model %s: %w", page.ID, err)
	}
	return buf.String(), nil
}

type imagePage struct {
	ID             string
	FullURL        string
	Prompt         string
	NegativePrompt string
	Sampler        string
	Seed           string
	Steps          string
	CFG            string
}

// ImageDetails renders the two-column image metadata panel.
func (r *Renderer) ImageDetails(img models.Image) (string, error) {
	if img.ID == "" {
		return "<div>No image data found.</div>", nil
	}
	page := imagePage{
		ID:             img.ID.String(),
		FullURL:        r.urls.UploadsURL(img.FilePath),
		Prompt:         img.Prompt,
		NegativePrompt: img.NegativePrompt,
		Sampler:        img.Sampler,
		Seed:           img.Seed.String(),
		Steps:          img.Steps.String(),
		CFG:            img.CFG.String(),
	}
	var buf bytes.Buffer
	if err := imageTemplate.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("rendering image %s: %w", page.ID, err)
	}
	return buf.String(), nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
