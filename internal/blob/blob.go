// Package blob implements a content-addressed byte store on the local
// filesystem. Refs are BLAKE2b-256 hashes of the content, so identical
// bytes always share one physical file and a blob is immutable once
// written. Blobs are only meaningful together with committed metadata;
// orphans left behind by failed metadata transactions are reclaimed by
// Sweep.
package blob

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"cloudemu/pkg/api"
)

// Ref addresses one blob: the lowercase hex BLAKE2b-256 of its content.
type Ref string

// Store is a sharded directory tree of write-once blobs:
// <root>/<ref[:2]>/<ref>.
type Store struct {
	root string
}

// Open prepares a blob store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Hash computes the Ref for data without storing anything.
func Hash(data []byte) Ref {
	sum := blake2b.Sum256(data)
	return Ref(hex.EncodeToString(sum[:]))
}

// Put stores data and returns its Ref. Identical content is stored once;
// a second Put of the same bytes returns the existing Ref without
// touching disk beyond a stat.
func (s *Store) Put(data []byte) (Ref, error) {
	ref := Hash(data)
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", api.IOErrorf(err, "creating blob shard")
	}

	// Write to a temp file then rename so a crash never leaves a
	// half-written blob under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", api.IOErrorf(err, "creating temp blob")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", api.IOErrorf(err, "writing blob %s", ref)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", api.IOErrorf(err, "closing blob %s", ref)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", api.IOErrorf(err, "placing blob %s", ref)
	}
	return ref, nil
}

// Get returns the content for ref, or NotFound if it was never written.
func (s *Store) Get(ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, api.NotFoundf("blob %s not found", ref)
	}
	if err != nil {
		return nil, api.IOErrorf(err, "reading blob %s", ref)
	}
	return data, nil
}

// Has reports whether ref exists on disk.
func (s *Store) Has(ref Ref) bool {
	_, err := os.Stat(s.path(ref))
	return err == nil
}

// Remove deletes one blob. Missing blobs are not an error.
func (s *Store) Remove(ref Ref) error {
	err := os.Remove(s.path(ref))
	if err != nil && !os.IsNotExist(err) {
		return api.IOErrorf(err, "removing blob %s", ref)
	}
	return nil
}

// Sweep walks the store and removes every blob for which live returns
// false, returning how many were reclaimed. Blobs younger than grace are
// skipped: a blob is always written before its metadata commits, so a
// fresh orphan may belong to an operation still in flight. Temp files
// from interrupted writes are removed on the same cutoff.
func (s *Store) Sweep(grace time.Duration, live func(Ref) bool) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-grace)
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return 0, api.IOErrorf(err, "reading blob root")
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return removed, api.IOErrorf(err, "reading blob shard %s", shard.Name())
		}
		for _, e := range entries {
			name := e.Name()
			path := filepath.Join(shardDir, name)
			if len(name) > 4 && name[:4] == ".tmp" {
				// A fresh temp file may belong to a Put between
				// CreateTemp and Rename; the grace cutoff applies
				// here too.
				if info, err := e.Info(); err == nil && !info.ModTime().After(cutoff) {
					os.Remove(path)
				}
				continue
			}
			if live(Ref(name)) {
				continue
			}
			if info, err := e.Info(); err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, api.IOErrorf(err, "sweeping blob %s", name)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Store) path(ref Ref) string {
	r := string(ref)
	if len(r) < 2 {
		r = "00" + r
	}
	return filepath.Join(s.root, r[:2], string(ref))
}
