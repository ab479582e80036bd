package objectstore

import (
	"context"
	"encoding/json"
	"strconv"

	"cloudemu/internal/dispatch"
	"cloudemu/internal/engine"
	"cloudemu/pkg/api"
)

// Register installs the service's operations on the dispatcher for each
// provider. Provider adapters normalize their wire formats to these
// canonical names and parameters.
func (s *Service) Register(d *dispatch.Dispatcher, providers ...api.Provider) error {
	ops := map[string]dispatch.HandlerFunc{
		"CreateBucket":       s.handleCreateBucket,
		"DeleteBucket":       s.handleDeleteBucket,
		"ListBuckets":        s.handleListBuckets,
		"SetVersioning":      s.handleSetVersioning,
		"PutBucketPolicy":    s.handlePutBucketPolicy,
		"GetBucketPolicy":    s.handleGetBucketPolicy,
		"PutObject":          s.handlePutObject,
		"GetObject":          s.handleGetObject,
		"HeadObject":         s.handleHeadObject,
		"ListObjects":        s.handleListObjects,
		"ListObjectVersions": s.handleListObjectVersions,
		"DeleteObject":       s.handleDeleteObject,
	}
	for _, p := range providers {
		for name, h := range ops {
			if err := d.Register(p, api.ServiceObjectStore, name, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) handleCreateBucket(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.CreateBucket(bucket); err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{"bucket": bucket})
}

func (s *Service) handleDeleteBucket(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteBucket(bucket); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleListBuckets(_ context.Context, op api.Operation) api.Result {
	buckets, err := s.ListBuckets()
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(buckets)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding bucket list"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(buckets))}, body)
}

func (s *Service) handleSetVersioning(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	enabled, err := op.Params.Bool("enabled")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.SetVersioning(bucket, enabled); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handlePutBucketPolicy(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.PutBucketPolicy(bucket, string(op.Body)); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleGetBucketPolicy(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	policy, err := s.GetBucketPolicy(bucket)
	if err != nil {
		return api.Fail(err)
	}
	return api.OKBody(nil, []byte(policy))
}

func (s *Service) handlePutObject(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	key, err := op.Params.String("key")
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.PutObject(bucket, key, op.Body, op.Params.StringDefault("content_type", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{
		"etag":       rec.ETag,
		"version_id": rec.VersionID,
	})
}

func (s *Service) handleGetObject(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	key, err := op.Params.String("key")
	if err != nil {
		return api.Fail(err)
	}
	rec, data, err := s.GetObject(bucket, key, op.Params.StringDefault("version", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OKBody(objectPayload(rec), data)
}

func (s *Service) handleHeadObject(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	key, err := op.Params.String("key")
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.HeadObject(bucket, key, op.Params.StringDefault("version", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(objectPayload(rec))
}

func (s *Service) handleListObjects(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	maxKeys, err := op.Params.IntDefault("max_keys", 0)
	if err != nil {
		return api.Fail(err)
	}
	res, err := s.ListObjects(bucket,
		op.Params.StringDefault("prefix", ""),
		op.Params.StringDefault("cursor", ""),
		maxKeys)
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(res.Objects)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding object list"))
	}
	payload := api.KeyedMap{
		"count":     strconv.Itoa(len(res.Objects)),
		"truncated": strconv.FormatBool(res.Truncated),
	}
	if res.NextCursor != "" {
		payload["next_cursor"] = res.NextCursor
	}
	return api.OKBody(payload, body)
}

func (s *Service) handleListObjectVersions(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	versions, err := s.ListObjectVersions(bucket, op.Params.StringDefault("prefix", ""))
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(versions)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding version list"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(versions))}, body)
}

func (s *Service) handleDeleteObject(_ context.Context, op api.Operation) api.Result {
	bucket, err := op.Params.String("bucket")
	if err != nil {
		return api.Fail(err)
	}
	key, err := op.Params.String("key")
	if err != nil {
		return api.Fail(err)
	}
	res, err := s.DeleteObject(bucket, key, op.Params.StringDefault("version", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{
		"delete_marker": strconv.FormatBool(res.DeleteMarker),
		"version_id":    res.VersionID,
	})
}

func objectPayload(rec engine.ObjectRecord) api.KeyedMap {
	return api.KeyedMap{
		"etag":         rec.ETag,
		"version_id":   rec.VersionID,
		"content_type": rec.ContentType,
		"size":         strconv.FormatInt(rec.Size, 10),
	}
}
