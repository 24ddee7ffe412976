package cache

import (
	"os"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/kilnlsp/kiln"
)

// ContentCache keeps the raw bytes of closed files read from disk, so
// repeated analyses of an unchanged file skip the read. Entries key on
// (path, stat fingerprint); a file touched on disk simply misses.
type ContentCache struct {
	c *ristretto.Cache[string, []byte]
}

// NewContentCache creates a content cache bounded to maxBytes of file
// content.
func NewContentCache(maxBytes int64) (*ContentCache, error) {
	if maxBytes <= 0 {
		maxBytes = kiln.DefaultContentBytes
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &ContentCache{c: c}, nil
}

// Read returns the file's bytes and its current stat fingerprint,
// serving from cache when the fingerprint matches.
func (cc *ContentCache) Read(path string) ([]byte, kiln.Fingerprint, error) {
	fp, err := kiln.FileFingerprint(path)
	if err != nil {
		return nil, "", err
	}

	k := path + "\x00" + string(fp)
	if data, ok := cc.c.Get(k); ok {
		return data, fp, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	cc.c.Set(k, data, int64(len(data)))

	return data, fp, nil
}

// Drop removes the cached bytes for a (path, fingerprint) pair.
func (cc *ContentCache) Drop(path string, fp kiln.Fingerprint) {
	cc.c.Del(path + "\x00" + string(fp))
}

// Wait blocks until buffered writes are applied. Used by tests.
func (cc *ContentCache) Wait() { cc.c.Wait() }

// Close releases the cache's resources.
func (cc *ContentCache) Close() { cc.c.Close() }
