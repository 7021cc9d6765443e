package vmservice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var lineCacheBucket = []byte("coverable-lines")

// LineCacheStore is an on-disk, per-project record of which lines a script is known to
// contain, backed by a bbolt database and cbor-encoded values. It persists across collection
// runs so a run that only exercises part of a script doesn't regress previously observed lines
// to "unknown".
type LineCacheStore struct {
	db *bbolt.DB
}

// OpenLineCacheStore opens (creating if absent) a LineCacheStore at path.
func OpenLineCacheStore(path string) (*LineCacheStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening coverable-line cache at %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(lineCacheBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "initializing coverable-line cache bucket")
	}

	return &LineCacheStore{db: db}, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Get returns the cached line set for scriptURI, or (nil, false) if nothing is cached.
func (s *LineCacheStore) Get(scriptURI string) ([]int, bool, error) {
	var lines []int
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineCacheBucket)
		data := bucket.Get([]byte(scriptURI))
		if data == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(data, &lines)
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading coverable lines for %s", scriptURI)
	}
	return lines, found, nil
}

// Put overwrites the cached line set for scriptURI.
func (s *LineCacheStore) Put(scriptURI string, lines []int) error {
	data, err := cbor.Marshal(lines, cbor.EncOptions{})
	if err != nil {
		return errors.Wrapf(err, "encoding coverable lines for %s", scriptURI)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineCacheBucket)
		return bucket.Put([]byte(scriptURI), data)
	})
	if err != nil {
		return errors.Wrapf(err, "writing coverable lines for %s", scriptURI)
	}
	return nil
}

// Keys returns every scriptURI with a cached line set.
func (s *LineCacheStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineCacheBucket)
		return bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing coverable-line cache keys")
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *LineCacheStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing coverable-line cache: %w", err)
	}
	return nil
}
