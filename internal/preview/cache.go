package preview

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"go-arcenciel-browser/internal/helpers"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// Cache keeps fetched thumbnails on disk and indexes them by remote URL in
// a bitcask store so later searches skip the network.
type Cache struct {
	dir string
	db  *bitcask.Bitcask
}

// OpenCache opens (or creates) the cache rooted at dir.
func OpenCache(dir string) (*Cache, error) {
	if err := helpers.CheckAndMakeDir(dir); err != nil {
		return nil, fmt.Errorf("creating preview cache dir %s: %w", dir, err)
	}
	db, err := bitcask.Open(filepath.Join(dir, "index"), bitcask.WithMaxKeySize(128), bitcask.WithMaxValueSize(1024))
	if err != nil {
		return nil, fmt.Errorf("opening preview cache index: %w", err)
	}
	log.Debugf("Preview cache opened at %s (%d entries)", dir, db.Len())
	return &Cache{dir: dir, db: db}, nil
}

func cacheKey(url string) []byte {
	sum := sha256.Sum256([]byte(url))
	return []byte(hex.EncodeToString(sum[:]))
}

// Lookup returns the cached file for url. Entries whose file has vanished
// are dropped from the index.
func (c *Cache) Lookup(url string) (path string, data []byte, contentType string, ok bool) {
	key := cacheKey(url)
	name, err := c.db.Get(key)
	if err != nil {
		if !errors.Is(err, bitcask.ErrKeyNotFound) {
			log.WithError(err).Warnf("Preview cache lookup failed for %s", url)
		}
		return "", nil, "", false
	}

	path = filepath.Join(c.dir, string(name))
	// #nosec G304
	data, err = os.ReadFile(path)
	if err != nil {
		log.WithError(err).Debugf("Cached preview %s unreadable, forgetting it", path)
		_ = c.db.Delete(key)
		return "", nil, "", false
	}
	return path, data, mime.TypeByExtension(filepath.Ext(path)), true
}

// Store writes data for url and records it in the index.
func (c *Cache) Store(url string, data []byte, contentType string) (string, error) {
	key := cacheKey(url)
	ext, ok := helpers.GetExtensionFromMimeType(contentType)
	if !ok {
		ext = ".bin"
	}
	name := string(key) + ext
	path := filepath.Join(c.dir, name)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing cached preview %s: %w", path, err)
	}
	if err := c.db.Put(key, []byte(name)); err != nil {
		return path, fmt.Errorf("indexing cached preview: %w", err)
	}
	return path, nil
}

// Len reports the number of indexed previews.
func (c *Cache) Len() int { return c.db.Len() }

// Close flushes and closes the index.
func (c *Cache) Close() error { return c.db.Close() }
