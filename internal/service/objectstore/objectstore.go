// Package objectstore implements the object storage service: buckets,
// versioned objects, delete markers and policies. All state lives in the
// storage engine; the service itself is stateless and safe to invoke
// concurrently.
package objectstore

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cloudemu/internal/blob"
	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// NullVersionID marks the single version of an object in an unversioned
// bucket, matching provider-observable behavior.
const NullVersionID = "null"

// DefaultMaxKeys bounds one listing page when the caller does not ask
// for less.
const DefaultMaxKeys = 1000

// Service handles object storage operations on the engine.
type Service struct {
	engine *engine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New creates the service.
func New(e *engine.Engine) *Service {
	return &Service{
		engine: e,
		logger: logging.For("objectstore"),
		now:    time.Now,
	}
}

// CreateBucket creates an empty, unversioned bucket.
func (s *Service) CreateBucket(name string) error {
	if err := validateName(name, "bucket"); err != nil {
		return err
	}
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.CreateBucket(tx, engine.BucketRecord{
			Name:      name,
			CreatedAt: s.now().UTC(),
		})
	})
}

// DeleteBucket removes an empty bucket.
func (s *Service) DeleteBucket(name string) error {
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.DeleteBucket(tx, name)
	})
}

// ListBuckets returns all buckets ordered by name.
func (s *Service) ListBuckets() ([]engine.BucketRecord, error) {
	var out []engine.BucketRecord
	err := s.engine.View(func(tx store.Txn) error {
		var err error
		out, err = s.engine.ListBuckets(tx)
		return err
	})
	return out, err
}

// SetVersioning switches versioning for a bucket. Existing versions are
// untouched; only future writes change behavior.
func (s *Service) SetVersioning(bucket string, enabled bool) error {
	return s.engine.Update(func(tx store.Txn) error {
		rec, err := s.engine.GetBucket(tx, bucket)
		if err != nil {
			return err
		}
		rec.VersioningEnabled = enabled
		return s.engine.PutBucket(tx, rec)
	})
}

// PutBucketPolicy attaches a policy document to the bucket. The policy
// is opaque to the core beyond being valid JSON.
func (s *Service) PutBucketPolicy(bucket, policyJSON string) error {
	if !json.Valid([]byte(policyJSON)) {
		return api.InvalidArgumentf("bucket policy is not valid JSON")
	}
	return s.engine.Update(func(tx store.Txn) error {
		rec, err := s.engine.GetBucket(tx, bucket)
		if err != nil {
			return err
		}
		rec.PolicyJSON = policyJSON
		return s.engine.PutBucket(tx, rec)
	})
}

// GetBucketPolicy returns the bucket's policy; NotFound when none is
// set.
func (s *Service) GetBucketPolicy(bucket string) (string, error) {
	var policy string
	err := s.engine.View(func(tx store.Txn) error {
		rec, err := s.engine.GetBucket(tx, bucket)
		if err != nil {
			return err
		}
		if rec.PolicyJSON == "" {
			return api.NotFoundf("bucket %q has no policy", bucket)
		}
		policy = rec.PolicyJSON
		return nil
	})
	return policy, err
}

// PutObject stores content under (bucket, key). The blob is written
// first; metadata commits atomically afterwards, so a failed commit
// leaves at most an orphaned blob, never a visible object. With
// versioning enabled the previous version is superseded, not deleted;
// without it the previous row is replaced in place.
func (s *Service) PutObject(bucket, key string, data []byte, contentType string) (engine.ObjectRecord, error) {
	if err := validateKey(key); err != nil {
		return engine.ObjectRecord{}, err
	}

	ref, err := s.engine.PutBlob(data)
	if err != nil {
		return engine.ObjectRecord{}, err
	}

	var rec engine.ObjectRecord
	err = s.engine.Update(func(tx store.Txn) error {
		b, err := s.engine.GetBucket(tx, bucket)
		if err != nil {
			return err
		}
		seq, err := s.engine.NextObjectSeq(tx, bucket)
		if err != nil {
			return err
		}

		versionID := NullVersionID
		if b.VersioningEnabled {
			versionID = uuid.NewString()
		}
		rec = engine.ObjectRecord{
			Bucket:      bucket,
			Key:         key,
			VersionID:   versionID,
			Seq:         seq,
			IsLatest:    true,
			Size:        int64(len(data)),
			ETag:        string(ref),
			ContentType: contentType,
			BlobRef:     string(ref),
			CreatedAt:   s.now().UTC(),
		}

		old, found, err := s.engine.GetLatestObject(tx, bucket, key)
		if err != nil {
			return err
		}
		if found {
			if b.VersioningEnabled {
				old.IsLatest = false
				if err := s.engine.PutObjectVersion(tx, old); err != nil {
					return err
				}
			} else {
				// Overwrite in place: the old row disappears and
				// its blob becomes garbage.
				if err := s.engine.DeleteObjectVersion(tx, bucket, key, old.Seq); err != nil {
					return err
				}
			}
		}
		if err := s.engine.PutObjectVersion(tx, rec); err != nil {
			return err
		}
		return s.engine.SetLatestObject(tx, rec)
	})
	if err != nil {
		return engine.ObjectRecord{}, err
	}
	return rec, nil
}

// GetObject returns the object's metadata and content. An empty
// versionID means the latest; a delete marker or missing key is
// NotFound, but explicit old versions remain readable.
func (s *Service) GetObject(bucket, key, versionID string) (engine.ObjectRecord, []byte, error) {
	rec, err := s.HeadObject(bucket, key, versionID)
	if err != nil {
		return engine.ObjectRecord{}, nil, err
	}
	data, err := s.engine.GetBlob(blob.Ref(rec.BlobRef))
	if err != nil {
		return engine.ObjectRecord{}, nil, err
	}
	return rec, data, nil
}

// HeadObject is GetObject without the content read.
func (s *Service) HeadObject(bucket, key, versionID string) (engine.ObjectRecord, error) {
	var rec engine.ObjectRecord
	err := s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetBucket(tx, bucket); err != nil {
			return err
		}
		if versionID == "" {
			latest, found, err := s.engine.GetLatestObject(tx, bucket, key)
			if err != nil {
				return err
			}
			if !found || latest.DeleteMarker {
				return api.NotFoundf("object %q not found in bucket %q", key, bucket)
			}
			rec = latest
			return nil
		}
		versioned, err := s.engine.GetObjectVersionByID(tx, bucket, key, versionID)
		if err != nil {
			return err
		}
		if versioned.DeleteMarker {
			return api.NotFoundf("version %q of object %q is a delete marker", versionID, key)
		}
		rec = versioned
		return nil
	})
	return rec, err
}

// ListResult is one page of a listing.
type ListResult struct {
	Objects    []engine.ObjectRecord
	Truncated  bool
	NextCursor string // pass back as the cursor for the next page
}

// ListObjects returns latest, non-deleted objects ordered by key,
// filtered by prefix, paginated by a stable key cursor.
func (s *Service) ListObjects(bucket, prefix, cursor string, maxKeys int) (ListResult, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if cursor != "" && prefix != "" && !strings.HasPrefix(cursor, prefix) {
		return ListResult{}, api.InvalidArgumentf("cursor %q does not match prefix %q", cursor, prefix)
	}

	var res ListResult
	err := s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetBucket(tx, bucket); err != nil {
			return err
		}
		var start []byte
		if cursor != "" {
			// Resume strictly after the cursor key.
			start = append([]byte(cursor), 0x00)
		} else if prefix != "" {
			start = []byte(prefix)
		}
		return s.engine.ScanLatestObjects(tx, bucket, start, func(rec engine.ObjectRecord) (bool, error) {
			if prefix != "" && !strings.HasPrefix(rec.Key, prefix) {
				return false, nil
			}
			if rec.DeleteMarker {
				return true, nil
			}
			if len(res.Objects) == maxKeys {
				res.Truncated = true
				res.NextCursor = res.Objects[maxKeys-1].Key
				return false, nil
			}
			res.Objects = append(res.Objects, rec)
			return true, nil
		})
	})
	if err != nil {
		return ListResult{}, err
	}
	return res, nil
}

// ListObjectVersions returns every version row (delete markers
// included) for keys matching prefix, grouped by key, oldest first
// within a key.
func (s *Service) ListObjectVersions(bucket, prefix string) ([]engine.ObjectRecord, error) {
	var out []engine.ObjectRecord
	err := s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetBucket(tx, bucket); err != nil {
			return err
		}
		return s.engine.ForEachObjectVersion(tx, bucket, func(rec engine.ObjectRecord) error {
			if prefix == "" || strings.HasPrefix(rec.Key, prefix) {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// DeleteResult reports what a delete did.
type DeleteResult struct {
	// DeleteMarker is true when a marker was inserted rather than a
	// row removed.
	DeleteMarker bool
	// VersionID is the marker's version, or the removed version.
	VersionID string
}

// DeleteObject applies the versioned delete semantics: without a
// version, unversioned buckets drop the row while versioned buckets
// insert a delete marker; with a version, that exact row is removed and
// the next-most-recent version becomes latest.
func (s *Service) DeleteObject(bucket, key, versionID string) (DeleteResult, error) {
	var res DeleteResult
	err := s.engine.Update(func(tx store.Txn) error {
		b, err := s.engine.GetBucket(tx, bucket)
		if err != nil {
			return err
		}
		if versionID != "" {
			return s.deleteExactVersion(tx, bucket, key, versionID, &res)
		}
		latest, found, err := s.engine.GetLatestObject(tx, bucket, key)
		if err != nil {
			return err
		}
		if !b.VersioningEnabled {
			// Unversioned delete is idempotent, like the providers'.
			if !found {
				return nil
			}
			res.VersionID = latest.VersionID
			if err := s.engine.DeleteObjectVersion(tx, bucket, key, latest.Seq); err != nil {
				return err
			}
			return s.engine.DeleteLatestObject(tx, bucket, key)
		}

		// Versioned soft delete: history stays, listing hides the key.
		if found {
			latest.IsLatest = false
			if err := s.engine.PutObjectVersion(tx, latest); err != nil {
				return err
			}
		}
		seq, err := s.engine.NextObjectSeq(tx, bucket)
		if err != nil {
			return err
		}
		marker := engine.ObjectRecord{
			Bucket:       bucket,
			Key:          key,
			VersionID:    uuid.NewString(),
			Seq:          seq,
			IsLatest:     true,
			DeleteMarker: true,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.engine.PutObjectVersion(tx, marker); err != nil {
			return err
		}
		if err := s.engine.SetLatestObject(tx, marker); err != nil {
			return err
		}
		res.DeleteMarker = true
		res.VersionID = marker.VersionID
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}

func (s *Service) deleteExactVersion(tx store.Txn, bucket, key, versionID string, res *DeleteResult) error {
	target, err := s.engine.GetObjectVersionByID(tx, bucket, key, versionID)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteObjectVersion(tx, bucket, key, target.Seq); err != nil {
		return err
	}
	res.VersionID = target.VersionID

	latest, found, err := s.engine.GetLatestObject(tx, bucket, key)
	if err != nil {
		return err
	}
	if !found || latest.VersionID != versionID {
		return nil
	}

	// The removed version was latest; promote the next-most-recent.
	remaining, err := s.engine.VersionsOfKey(tx, bucket, key)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return s.engine.DeleteLatestObject(tx, bucket, key)
	}
	next := remaining[len(remaining)-1]
	next.IsLatest = true
	if err := s.engine.PutObjectVersion(tx, next); err != nil {
		return err
	}
	return s.engine.SetLatestObject(tx, next)
}

func validateName(name, what string) error {
	if name == "" {
		return api.InvalidArgumentf("%s name must not be empty", what)
	}
	if strings.ContainsRune(name, 0x00) {
		return api.InvalidArgumentf("%s name must not contain NUL bytes", what)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return api.InvalidArgumentf("object key must not be empty")
	}
	if strings.ContainsRune(key, 0x00) {
		return api.InvalidArgumentf("object key must not contain NUL bytes")
	}
	return nil
}
