package engine

import (
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// CreateBucket inserts a bucket record; Conflict if the name is taken.
func (e *Engine) CreateBucket(tx store.Txn, rec BucketRecord) error {
	b, err := tx.Bucket(bucketsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) != nil {
		return api.Conflictf("bucket %q already exists", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// GetBucket returns the bucket record for name.
func (e *Engine) GetBucket(tx store.Txn, name string) (BucketRecord, error) {
	b, err := tx.Bucket(bucketsBucket)
	if err != nil {
		return BucketRecord{}, err
	}
	data := b.Get([]byte(name))
	if data == nil {
		return BucketRecord{}, api.NotFoundf("bucket %q not found", name)
	}
	var rec BucketRecord
	if err := decode(data, &rec); err != nil {
		return BucketRecord{}, err
	}
	return rec, nil
}

// PutBucket overwrites an existing bucket record (versioning flag,
// policy). The bucket must already exist.
func (e *Engine) PutBucket(tx store.Txn, rec BucketRecord) error {
	b, err := tx.Bucket(bucketsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) == nil {
		return api.NotFoundf("bucket %q not found", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// DeleteBucket removes an empty bucket and its row buckets. A bucket
// holding any object version (delete markers included) is Conflict.
func (e *Engine) DeleteBucket(tx store.Txn, name string) error {
	b, err := tx.Bucket(bucketsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(name)) == nil {
		return api.NotFoundf("bucket %q not found", name)
	}
	versions, err := tx.Bucket(objVersionsBucket(name))
	if err != nil {
		return err
	}
	empty := true
	err = versions.Scan(nil, func(k, v []byte) (bool, error) {
		empty = false
		return false, nil
	})
	if err != nil {
		return err
	}
	if !empty {
		return api.Conflictf("bucket %q is not empty", name)
	}
	if err := tx.DeleteBucket(objLatestBucket(name)); err != nil {
		return err
	}
	if err := tx.DeleteBucket(objVersionsBucket(name)); err != nil {
		return err
	}
	return b.Delete([]byte(name))
}

// ListBuckets returns every bucket record, ordered by name.
func (e *Engine) ListBuckets(tx store.Txn) ([]BucketRecord, error) {
	b, err := tx.Bucket(bucketsBucket)
	if err != nil {
		return nil, err
	}
	var out []BucketRecord
	err = b.ForEach(func(k, v []byte) error {
		var rec BucketRecord
		if err := decode(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
