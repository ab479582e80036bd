// Package engine combines the transactional metadata store and the
// content-addressed blob store behind one façade. Every cross-record
// invariant in the emulator is enforced here, inside a single metadata
// transaction: resource-name uniqueness, object version chains, item key
// uniqueness, message ordering. Blob writes happen before the metadata
// transaction commits; an orphaned blob after a failed commit is garbage
// for CollectGarbage, never a visible object.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloudemu/internal/blob"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// Engine is the storage façade shared by every service handler. It is
// safe for concurrent use; the metadata store serializes writers.
type Engine struct {
	meta   store.Store
	blobs  *blob.Store
	logger *slog.Logger
}

// New builds an engine over an open metadata store and blob store.
func New(meta store.Store, blobs *blob.Store) *Engine {
	return &Engine{
		meta:   meta,
		blobs:  blobs,
		logger: logging.For("engine"),
	}
}

// Begin opens a raw transaction for callers that manage commit/rollback
// themselves. Most callers want Update or View.
func (e *Engine) Begin(writable bool) (store.Txn, error) {
	return e.meta.Begin(writable)
}

// Update runs fn in one writable metadata transaction.
func (e *Engine) Update(fn func(store.Txn) error) error {
	return e.meta.Update(fn)
}

// View runs fn in one read-only metadata transaction.
func (e *Engine) View(fn func(store.Txn) error) error {
	return e.meta.View(fn)
}

// PutBlob stores content and returns its ref. Call before committing the
// metadata that references it.
func (e *Engine) PutBlob(data []byte) (blob.Ref, error) {
	return e.blobs.Put(data)
}

// GetBlob returns the content for ref.
func (e *Engine) GetBlob(ref blob.Ref) ([]byte, error) {
	return e.blobs.Get(ref)
}

// CollectGarbage reclaims blobs no object version references. Blobs
// younger than grace are kept so that writes racing the collection are
// never lost.
func (e *Engine) CollectGarbage(grace time.Duration) (int, error) {
	live := make(map[blob.Ref]struct{})
	err := e.View(func(tx store.Txn) error {
		buckets, err := e.ListBuckets(tx)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			err := e.ForEachObjectVersion(tx, b.Name, func(rec ObjectRecord) error {
				if rec.BlobRef != "" {
					live[blob.Ref(rec.BlobRef)] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	removed, err := e.blobs.Sweep(grace, func(r blob.Ref) bool {
		_, ok := live[r]
		return ok
	})
	if removed > 0 {
		e.logger.Info("blob garbage collected", "removed", removed, "live", len(live))
	}
	return removed, err
}

// Close closes the metadata store.
func (e *Engine) Close() error {
	return e.meta.Close()
}

// encode marshals a record for storage.
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// decode unmarshals a stored record. A decode failure means the store
// was corrupted outside the engine.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return api.IOErrorf(err, "decoding stored record")
	}
	return nil
}
