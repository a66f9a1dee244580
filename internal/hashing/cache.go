package hashing

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/parasync/parasync/internal/scerr"
)

const bucketName = "hashes"

// Cache provides persistent caching of file digests, keyed on
// (path, size, mtime, algorithm), using BoltDB. Self-cleaning: each run
// opens the prior database read-only and writes a fresh one; on a
// successful Close the fresh database atomically replaces the old one, so
// entries nobody looked up this run quietly fall out rather than
// accumulating forever.
type Cache struct {
	readDB  *bolt.DB
	writeDB *bolt.DB
	path    string
	enabled bool
}

// Open opens the cache at path. An empty path returns a disabled cache
// whose Lookup always misses and whose Store is a no-op.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, scerr.New(scerr.KindConfig, path, err)
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		if db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second}); err == nil {
			c.readDB = db
		}
	}

	newPath := path + ".new"
	writeDB, err := bolt.Open(newPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, scerr.New(scerr.KindConfig, newPath, err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and, if the write database closed cleanly,
// atomically replaces the old cache file with the new one.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, err)
		}
	}
	return scerr.Collect(errs)
}

const keyVersion byte = 1

// makeKey builds a deterministic byte key: ver(1) + path + NUL +
// size(8) + mtime(8) + algorithm, any change to any field is a cache miss.
func makeKey(path string, size int64, mtime time.Time, algo Algorithm) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, size)
	_ = binary.Write(buf, binary.BigEndian, mtime.UnixNano())
	buf.WriteString(string(algo))
	return buf.Bytes()
}

// Lookup retrieves a cached digest. A hit also re-stores the entry into the
// fresh write database (the self-cleaning behavior). Returns ("", false,
// nil) on a clean miss.
func (c *Cache) Lookup(path string, size int64, mtime time.Time, algo Algorithm) (string, bool, error) {
	if !c.enabled || c.readDB == nil {
		return "", false, nil
	}

	key := makeKey(path, size, mtime, algo)
	var digest []byte

	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); data != nil {
			digest = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return "", false, scerr.New(scerr.KindIO, path, err)
	}
	if digest == nil {
		return "", false, nil
	}

	_ = c.Store(path, size, mtime, algo, string(digest))
	return string(digest), true, nil
}

// Store saves a digest for (path, size, mtime, algo) into the write
// database.
func (c *Cache) Store(path string, size int64, mtime time.Time, algo Algorithm, digest string) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}
	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(path, size, mtime, algo), []byte(digest))
	})
	if err != nil {
		return scerr.New(scerr.KindIO, path, err)
	}
	return nil
}
