package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// UnknownFileName is used when a request carries no usable file name.
const UnknownFileName = "UnknownFile"

var (
	slugInvalid   = regexp.MustCompile(`[^a-z0-9_.\-]+`)
	slugRepeats   = regexp.MustCompile(`[_]{2,}`)
	slugDashMix   = regexp.MustCompile(`_?-_?`)
	headerInvalid = regexp.MustCompile(`[\\/:*?"<>|]+`)
)

// ConvertToSlug lower-cases s and reduces it to characters that are safe in
// a single path segment.
func ConvertToSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.Join(strings.Fields(s), "_")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugRepeats.ReplaceAllString(s, "_")
	s = slugDashMix.ReplaceAllString(s, "-")
	return strings.Trim(s, "_-")
}

// BytesToSize renders a byte count using binary units.
func BytesToSize(b uint64) string {
	return humanize.IBytes(b)
}

// SanitizePath cleans a relative path and strips any leading separators or
// parent references so it cannot escape the working directory.
func SanitizePath(p string) string {
	cleaned := filepath.Clean("/" + filepath.ToSlash(p))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return filepath.FromSlash(cleaned)
}

// SanitizeFileName replaces path separators so name is a single segment.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return UnknownFileName
	}
	return name
}

// SanitizeHeaderFileName is the stricter variant used for names taken from
// response headers, which may contain characters invalid on Windows.
func SanitizeHeaderFileName(name string) string {
	name = headerInvalid.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

// CheckAndMakeDir creates dir and any missing parents.
func CheckAndMakeDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	log.Debugf("Creating directory %s", dir)
	// #nosec G301
	return os.MkdirAll(dir, 0755)
}

// GetExtensionFromMimeType maps a Content-Type to a file extension.
func GetExtensionFromMimeType(mimeType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(mimeType, ";")[0])
	}
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return ".jpg", true
	case "image/png":
		return ".png", true
	case "image/webp":
		return ".webp", true
	case "image/gif":
		return ".gif", true
	case "video/mp4":
		return ".mp4", true
	}
	return "", false
}

// FileHashes holds the digests computed by HashFile.
type FileHashes struct {
	SHA256 string
	BLAKE3 string
}

// HashFile computes the SHA256 and BLAKE3 digests of a file in one pass.
func HashFile(path string) (FileHashes, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return FileHashes{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	hashes, err := HashReader(f)
	if err != nil {
		return FileHashes{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hashes, nil
}

// HashReader is HashFile for an already opened stream.
func HashReader(r io.Reader) (FileHashes, error) {
	sh := sha256.New()
	bh := blake3.New()
	if _, err := io.Copy(io.MultiWriter(sh, bh), r); err != nil {
		return FileHashes{}, err
	}
	return FileHashes{
		SHA256: strings.ToUpper(hex.EncodeToString(sh.Sum(nil))),
		BLAKE3: strings.ToUpper(hex.EncodeToString(bh.Sum(nil))),
	}, nil
}

// StringSliceContains reports whether slice holds item, ignoring case.
func StringSliceContains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
