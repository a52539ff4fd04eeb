package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FlexString unmarshals from either a JSON string or a JSON number. The
// catalog returns ids as numbers while the browser-side script posts them
// back as strings, so both shapes have to be accepted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler for FlexString
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*f = FlexString(str)
		return nil
	}

	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("value %s is neither a string nor a number", string(data))
	}
	*f = FlexString(num.String())
	return nil
}

// String returns the plain string value.
func (f FlexString) String() string { return string(f) }

// VersionList accepts both a bare JSON array of versions and an object
// wrapping them under "versions".
type VersionList []ModelVersion

// UnmarshalJSON implements json.Unmarshaler for VersionList
func (v *VersionList) UnmarshalJSON(data []byte) error {
	var arr []ModelVersion
	if err := json.Unmarshal(data, &arr); err == nil {
		*v = arr
		return nil
	}

	var wrapped struct {
		Versions []ModelVersion `json:"versions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*v = wrapped.Versions
	return nil
}

type (
	// Config holds the application's configuration settings.
	Config struct {
		APIKey              string         `toml:"ApiKey" json:"ApiKey"`
		BaseURL             string         `toml:"BaseURL" json:"BaseURL"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		PathsFile           string         `toml:"PathsFile" json:"PathsFile"`
		Server              ServerConfig   `toml:"Server" json:"Server"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
		Preview             PreviewConfig  `toml:"Preview" json:"Preview"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ServerConfig holds settings for the 'serve' command.
	ServerConfig struct {
		Listen string `toml:"Listen" json:"Listen"`
	}

	// DownloadConfig holds settings for the serial download queue.
	DownloadConfig struct {
		TimeoutSec      int   `toml:"TimeoutSec" json:"TimeoutSec"`           // response header timeout
		StallTimeoutSec int   `toml:"StallTimeoutSec" json:"StallTimeoutSec"` // max silence between chunks
		ChunkSizeKB     int   `toml:"ChunkSizeKB" json:"ChunkSizeKB"`
		IdleWaitMs      int   `toml:"IdleWaitMs" json:"IdleWaitMs"`
		MaxBytesPerSec  int64 `toml:"MaxBytesPerSec" json:"MaxBytesPerSec"` // 0 = unlimited
		SaveModelInfo   bool  `toml:"SaveModelInfo" json:"SaveModelInfo"`
	}

	// PreviewConfig holds settings for the thumbnail fetch pool.
	PreviewConfig struct {
		CacheDir    string `toml:"CacheDir" json:"CacheDir"`
		Concurrency int    `toml:"Concurrency" json:"Concurrency"`
		TimeoutSec  int    `toml:"TimeoutSec" json:"TimeoutSec"`
	}

	// DownloadItem is one queued single-file transfer request.
	DownloadItem struct {
		ID          string    `json:"id"`
		ModelID     string    `json:"modelId"`
		VersionID   string    `json:"versionId"`
		URL         string    `json:"url"`
		Destination string    `json:"destination"`
		EnqueuedAt  time.Time `json:"enqueuedAt"`
	}

	// --- Catalog API responses ---

	SearchParameters struct {
		Query     string `json:"search"`
		Sort      string `json:"sort"`
		BaseModel string `json:"baseModel,omitempty"`
		ModelType string `json:"modelType,omitempty"`
		Page      int    `json:"page"`
		Limit     int    `json:"limit"`
	}

	SearchResponse struct {
		Data       []Model `json:"data"`
		Page       int     `json:"page"`
		Limit      int     `json:"limit"`
		TotalCount int     `json:"totalCount"`
		TotalPages int     `json:"totalPages"`
	}

	Model struct {
		ID           FlexString  `json:"id"`
		Title        string      `json:"title"`
		Description  string      `json:"description"`
		Type         string      `json:"type"`
		Uploader     Uploader    `json:"uploader"`
		Tags         []Tag       `json:"tags"`
		Versions     VersionList `json:"versions"`
		PinnedImages []Image     `json:"pinnedImages"`
	}

	Uploader struct {
		Username string `json:"username"`
	}

	Tag struct {
		Name string `json:"name"`
	}

	ModelVersion struct {
		ID                  FlexString `json:"id"`
		ModelID             FlexString `json:"modelId"`
		VersionName         string     `json:"versionName"`
		BaseModel           string     `json:"baseModel"`
		AboutThisVersion    string     `json:"aboutThisVersion"`
		FileName            string     `json:"fileName"`
		ExternalDownloadURL string     `json:"externalDownloadUrl"`
		ModelType           string     `json:"modelType"`
		CreatedAt           string     `json:"createdAt"`
		SHA256              string     `json:"sha256"`
		SHA256WebUI         string     `json:"sha256webui"`
		ActivationTags      []string   `json:"activationTags"`
		Images              []Image    `json:"images"`
		DownloadCount       int        `json:"downloadCount"`
	}

	GalleryResponse struct {
		Data []Image `json:"data"`
	}

	Image struct {
		ID             FlexString `json:"id"`
		FilePath       string     `json:"filePath"`
		Prompt         string     `json:"prompt"`
		NegativePrompt string     `json:"negativePrompt"`
		Sampler        string     `json:"sampler"`
		Seed           FlexString `json:"seed"`
		Steps          FlexString `json:"steps"`
		CFG            FlexString `json:"cfg"`
	}

	// ModelInfo is the sidecar JSON written next to a downloaded model file.
	ModelInfo struct {
		SHA256         string `json:"sha256,omitempty"`
		BLAKE3         string `json:"blake3,omitempty"`
		ModelID        string `json:"modelId"`
		ModelVersionID string `json:"modelVersionId"`
		ActivationText string `json:"activation text,omitempty"`
		Description    string `json:"description,omitempty"`
		SDVersion      string `json:"sd version,omitempty"`
		SourceURL      string `json:"sourceUrl,omitempty"`
	}
)

// Known model type categories, in display order.
const (
	TypeLora         = "LORA"
	TypeCheckpoint   = "CHECKPOINT"
	TypeVAE          = "VAE"
	TypeEmbedding    = "EMBEDDING"
	TypeSegmentation = "SEGMENTATION"
	TypeOther        = "OTHER"
)

// KnownTypes lists every category that has a path preset.
var KnownTypes = []string{TypeLora, TypeCheckpoint, TypeVAE, TypeEmbedding, TypeSegmentation, TypeOther}

// NormalizeType upper-cases a model type and maps unknown values to OTHER.
func NormalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	for _, k := range KnownTypes {
		if t == k {
			return k
		}
	}
	return TypeOther
}

// LatestVersion returns the version with the newest CreatedAt (falling back
// to the first entry) or nil when the model has no versions.
func (m Model) LatestVersion() *ModelVersion {
	if len(m.Versions) == 0 {
		return nil
	}
	latest := &m.Versions[0]
	for i := range m.Versions {
		if m.Versions[i].CreatedAt > latest.CreatedAt {
			latest = &m.Versions[i]
		}
	}
	return latest
}

// FirstImagePath returns the filePath of the first image of the latest
// version that has any images.
func (m Model) FirstImagePath() string {
	if latest := m.LatestVersion(); latest != nil {
		for _, img := range latest.Images {
			if img.FilePath != "" {
				return img.FilePath
			}
		}
	}
	for _, v := range m.Versions {
		for _, img := range v.Images {
			if img.FilePath != "" {
				return img.FilePath
			}
		}
	}
	return ""
}
