package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-arcenciel-browser/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check API key)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
	ErrBadResponse  = errors.New("API returned a malformed response")
	ErrRequest      = errors.New("API request failed")
)

const DefaultBaseURL = "https://arcenciel.io/api"

// Client talks to the ArcEnCiel catalog API. Every method returns the zero
// value plus one of the errors above on failure and never panics.
type Client struct {
	BaseURL      string
	ApiKey       string
	HttpClient   *http.Client
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewClient creates a new API client
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := 20 * time.Second
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	log.Debugf("NewClient using base URL %s", base)

	return &Client{
		BaseURL:      base,
		ApiKey:       apiKey,
		HttpClient:   httpClient,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// SearchModels runs a catalog search and returns one page of results.
func (c *Client) SearchModels(ctx context.Context, params models.SearchParameters) (models.SearchResponse, error) {
	values := url.Values{}
	values.Set("search", params.Query)
	sort := params.Sort
	if sort == "" {
		sort = "newest"
	}
	values.Set("sort", sort)
	page := params.Page
	if page < 1 {
		page = 1
	}
	values.Set("page", strconv.Itoa(page))
	limit := params.Limit
	if limit < 1 {
		limit = 12
	}
	values.Set("limit", strconv.Itoa(limit))
	if params.BaseModel != "" {
		values.Set("baseModel", params.BaseModel)
	}
	if params.ModelType != "" {
		values.Set("modelType", params.ModelType)
	}

	var resp models.SearchResponse
	if err := c.getJSON(ctx, "/models/search", values, &resp); err != nil {
		return models.SearchResponse{}, err
	}
	return resp, nil
}

// GetModelVersions lists the versions of a model.
func (c *Client) GetModelVersions(ctx context.Context, modelID string) (models.VersionList, error) {
	var versions models.VersionList
	if err := c.getJSON(ctx, "/models/"+url.PathEscape(modelID)+"/versions", nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// GetModelDetails fetches details for a specific model ID.
func (c *Client) GetModelDetails(ctx context.Context, modelID string) (models.Model, error) {
	var model models.Model
	if err := c.getJSON(ctx, "/models/"+url.PathEscape(modelID), nil, &model); err != nil {
		return models.Model{}, err
	}
	if model.ID == "" {
		return models.Model{}, fmt.Errorf("%w: model %s has no id", ErrBadResponse, modelID)
	}
	return model, nil
}

// GetModelGallery fetches the gallery images of a model.
func (c *Client) GetModelGallery(ctx context.Context, modelID string) (models.GalleryResponse, error) {
	var gallery models.GalleryResponse
	if err := c.getJSON(ctx, "/models/"+url.PathEscape(modelID)+"/gallery", nil, &gallery); err != nil {
		return models.GalleryResponse{}, err
	}
	return gallery, nil
}

// GetImageDetails fetches generation metadata for one image.
func (c *Client) GetImageDetails(ctx context.Context, imageID string) (models.Image, error) {
	var img models.Image
	if err := c.getJSON(ctx, "/images/"+url.PathEscape(imageID)+"/info", nil, &img); err != nil {
		return models.Image{}, err
	}
	if img.ID == "" {
		return models.Image{}, fmt.Errorf("%w: image %s has no id", ErrBadResponse, imageID)
	}
	return img, nil
}

// getJSON performs a GET against the API, retrying rate limits and server
// errors, and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, values url.Values, out any) error {
	reqURL := c.BaseURL + endpoint
	if len(values) > 0 {
		reqURL += "?" + values.Encode()
	}

	maxRetries := c.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.RetryBackoff
			log.WithError(lastErr).Warnf("Retrying %s (%d/%d) after %s", endpoint, attempt+1, maxRetries, wait)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRequest, ctx.Err())
			case <-time.After(wait):
			}
		}

		body, err := c.do(ctx, reqURL)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				log.WithError(err).Errorf("Error unmarshalling response JSON from %s", endpoint)
				log.Debugf("Response body causing unmarshal error: %s", string(body))
				return fmt.Errorf("%w: %v", ErrBadResponse, err)
			}
			return nil
		}

		lastErr = err
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrServerError) {
			break
		}
	}

	log.WithError(lastErr).Debugf("Request to %s failed", endpoint)
	return lastErr
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrRequest, err)
	}
	return body, nil
}
