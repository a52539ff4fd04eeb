package downloader

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"go-arcenciel-browser/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// FileNameFromDisposition extracts a file name from a Content-Disposition
// header. Some hosts percent-encode filename* twice (Anzhc%2520v1.pt), so
// the value is decoded until no encoded sequence is left.
func FileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		log.WithError(err).Debugf("Could not parse Content-Disposition header: %s", header)
		params = parseDispositionLoosely(header)
	}

	// mime.ParseMediaType already folds filename* into filename after one
	// RFC 2231 decode.
	name := params["filename"]
	for strings.Contains(name, "%") {
		decoded, err := url.PathUnescape(name)
		if err != nil || decoded == name {
			break
		}
		name = decoded
	}
	return helpers.SanitizeHeaderFileName(name)
}

// parseDispositionLoosely handles headers mime rejects, such as unquoted
// names containing spaces.
func parseDispositionLoosely(header string) map[string]string {
	params := map[string]string{}
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "filename*":
			if idx := strings.Index(value, "''"); idx >= 0 {
				value = value[idx+2:]
			}
			params["filename"] = value
		case "filename":
			if _, seen := params["filename"]; !seen {
				params["filename"] = value
			}
		}
	}
	return params
}

// FileNameFromURL returns the unescaped last path segment of rawURL.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return helpers.SanitizeHeaderFileName(name)
}

// ProbeFileName asks the server for the name it would give url by reading
// only the response headers. It falls back to the last URL segment.
func (d *Downloader) ProbeFileName(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.HeaderTimeout)
	defer cancel()

	req, err := d.newRequest(ctx, rawURL)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: probing %s: %v", ErrHttpRequest, rawURL, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, rawURL)
	}

	if name := FileNameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		return name, nil
	}
	// Redirects land on the storage host, whose path usually carries the name.
	if name := FileNameFromURL(resp.Request.URL.String()); name != "" {
		return name, nil
	}
	return FileNameFromURL(rawURL), nil
}
