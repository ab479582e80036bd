package engine

import (
	"bytes"

	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// NextObjectSeq allocates the next version sequence number for a bucket.
func (e *Engine) NextObjectSeq(tx store.Txn, bucket string) (uint64, error) {
	b, err := tx.Bucket(objVersionsBucket(bucket))
	if err != nil {
		return 0, err
	}
	return b.NextSequence()
}

// GetLatestObject returns the current row for key: the one with
// is_latest=true, delete markers included. The bool reports presence.
func (e *Engine) GetLatestObject(tx store.Txn, bucket, key string) (ObjectRecord, bool, error) {
	b, err := tx.Bucket(objLatestBucket(bucket))
	if err != nil {
		return ObjectRecord{}, false, err
	}
	data := b.Get([]byte(key))
	if data == nil {
		return ObjectRecord{}, false, nil
	}
	var rec ObjectRecord
	if err := decode(data, &rec); err != nil {
		return ObjectRecord{}, false, err
	}
	return rec, true, nil
}

// SetLatestObject makes rec the is_latest row for its key.
func (e *Engine) SetLatestObject(tx store.Txn, rec ObjectRecord) error {
	rec.IsLatest = true
	b, err := tx.Bucket(objLatestBucket(rec.Bucket))
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Key), data)
}

// DeleteLatestObject clears the is_latest pointer for key.
func (e *Engine) DeleteLatestObject(tx store.Txn, bucket, key string) error {
	b, err := tx.Bucket(objLatestBucket(bucket))
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// PutObjectVersion inserts one version row, keyed by (key, seq).
func (e *Engine) PutObjectVersion(tx store.Txn, rec ObjectRecord) error {
	b, err := tx.Bucket(objVersionsBucket(rec.Bucket))
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put(versionKey(rec.Key, rec.Seq), data)
}

// DeleteObjectVersion removes the version row (key, seq).
func (e *Engine) DeleteObjectVersion(tx store.Txn, bucket, key string, seq uint64) error {
	b, err := tx.Bucket(objVersionsBucket(bucket))
	if err != nil {
		return err
	}
	return b.Delete(versionKey(key, seq))
}

// VersionsOfKey returns every version row for key, oldest first.
func (e *Engine) VersionsOfKey(tx store.Txn, bucket, key string) ([]ObjectRecord, error) {
	b, err := tx.Bucket(objVersionsBucket(bucket))
	if err != nil {
		return nil, err
	}
	prefix := versionPrefix(key)
	var out []ObjectRecord
	err = b.Scan(prefix, func(k, v []byte) (bool, error) {
		if !bytes.HasPrefix(k, prefix) {
			return false, nil
		}
		var rec ObjectRecord
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		out = append(out, rec)
		return true, nil
	})
	return out, err
}

// GetObjectVersionByID returns the version row for (key, versionID).
func (e *Engine) GetObjectVersionByID(tx store.Txn, bucket, key, versionID string) (ObjectRecord, error) {
	versions, err := e.VersionsOfKey(tx, bucket, key)
	if err != nil {
		return ObjectRecord{}, err
	}
	for _, rec := range versions {
		if rec.VersionID == versionID {
			return rec, nil
		}
	}
	return ObjectRecord{}, api.NotFoundf("version %q of object %q not found", versionID, key)
}

// ScanLatestObjects visits is_latest rows in key order starting at
// startKey (nil for the beginning). Delete markers are included; callers
// filter.
func (e *Engine) ScanLatestObjects(tx store.Txn, bucket string, startKey []byte, fn func(ObjectRecord) (bool, error)) error {
	b, err := tx.Bucket(objLatestBucket(bucket))
	if err != nil {
		return err
	}
	return b.Scan(startKey, func(k, v []byte) (bool, error) {
		var rec ObjectRecord
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		return fn(rec)
	})
}

// ForEachObjectVersion visits every version row in the bucket, in
// (key, seq) order.
func (e *Engine) ForEachObjectVersion(tx store.Txn, bucket string, fn func(ObjectRecord) error) error {
	b, err := tx.Bucket(objVersionsBucket(bucket))
	if err != nil {
		return err
	}
	return b.ForEach(func(k, v []byte) error {
		var rec ObjectRecord
		if err := decode(v, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}
