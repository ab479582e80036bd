package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloudemu/internal/blob"
	"cloudemu/internal/store"
	boltstore "cloudemu/internal/store/bolt"
	"cloudemu/pkg/api"
)

func tempEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	meta, err := boltstore.Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := blob.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	e := New(meta, blobs)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestBucketUniqueness(t *testing.T) {
	e := tempEngine(t)
	rec := BucketRecord{Name: "photos", CreatedAt: time.Now()}

	err := e.Update(func(tx store.Txn) error {
		return e.CreateBucket(tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx store.Txn) error {
		return e.CreateBucket(tx, rec)
	})
	if !api.IsConflict(err) {
		t.Fatalf("duplicate create err = %v, want conflict", err)
	}
}

func TestGetBucketNotFound(t *testing.T) {
	e := tempEngine(t)
	err := e.View(func(tx store.Txn) error {
		_, err := e.GetBucket(tx, "missing")
		return err
	})
	if !api.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDeleteBucketNotEmpty(t *testing.T) {
	e := tempEngine(t)
	err := e.Update(func(tx store.Txn) error {
		if err := e.CreateBucket(tx, BucketRecord{Name: "b"}); err != nil {
			return err
		}
		seq, err := e.NextObjectSeq(tx, "b")
		if err != nil {
			return err
		}
		rec := ObjectRecord{Bucket: "b", Key: "k", VersionID: "v1", Seq: seq}
		if err := e.PutObjectVersion(tx, rec); err != nil {
			return err
		}
		return e.SetLatestObject(tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx store.Txn) error {
		return e.DeleteBucket(tx, "b")
	})
	if !api.IsConflict(err) {
		t.Fatalf("delete non-empty err = %v, want conflict", err)
	}
}

func TestVersionsOfKeyOrderedBySeq(t *testing.T) {
	e := tempEngine(t)
	err := e.Update(func(tx store.Txn) error {
		if err := e.CreateBucket(tx, BucketRecord{Name: "b"}); err != nil {
			return err
		}
		for _, vid := range []string{"v1", "v2", "v3"} {
			seq, err := e.NextObjectSeq(tx, "b")
			if err != nil {
				return err
			}
			rec := ObjectRecord{Bucket: "b", Key: "k", VersionID: vid, Seq: seq}
			if err := e.PutObjectVersion(tx, rec); err != nil {
				return err
			}
		}
		// Similar key must not leak into k's version scan.
		seq, err := e.NextObjectSeq(tx, "b")
		if err != nil {
			return err
		}
		return e.PutObjectVersion(tx, ObjectRecord{Bucket: "b", Key: "k2", VersionID: "other", Seq: seq})
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = e.View(func(tx store.Txn) error {
		versions, err := e.VersionsOfKey(tx, "b", "k")
		if err != nil {
			return err
		}
		for _, v := range versions {
			got = append(got, v.VersionID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"v1", "v2", "v3"}
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions = %v, want %v", got, want)
		}
	}
}

func TestItemKeyValidation(t *testing.T) {
	e := tempEngine(t)
	err := e.Update(func(tx store.Txn) error {
		return e.PutItem(tx, ItemRecord{Table: "t", PartitionKey: "", SortKey: "s"})
	})
	if !api.IsInvalidArgument(err) {
		t.Fatalf("empty partition key err = %v, want invalid argument", err)
	}

	err = e.Update(func(tx store.Txn) error {
		return e.PutItem(tx, ItemRecord{Table: "t", PartitionKey: "a\x00b"})
	})
	if !api.IsInvalidArgument(err) {
		t.Fatalf("NUL in key err = %v, want invalid argument", err)
	}
}

func TestQueryItemsSortKeyOrder(t *testing.T) {
	e := tempEngine(t)
	err := e.Update(func(tx store.Txn) error {
		for _, sk := range []string{"c", "a", "b"} {
			rec := ItemRecord{Table: "t", PartitionKey: "p", SortKey: sk, Document: []byte(`{}`), VersionToken: 1}
			if err := e.PutItem(tx, rec); err != nil {
				return err
			}
		}
		// Different partition must be excluded.
		return e.PutItem(tx, ItemRecord{Table: "t", PartitionKey: "q", SortKey: "a", Document: []byte(`{}`), VersionToken: 1})
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = e.View(func(tx store.Txn) error {
		return e.QueryItems(tx, "t", "p", func(rec ItemRecord) (bool, error) {
			got = append(got, rec.SortKey)
			return true, nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("sort keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort keys = %v, want %v", got, want)
		}
	}
}

func TestMessagesFIFO(t *testing.T) {
	e := tempEngine(t)
	err := e.Update(func(tx store.Txn) error {
		if err := e.CreateQueue(tx, QueueRecord{Name: "q"}); err != nil {
			return err
		}
		for _, id := range []string{"m1", "m2", "m3"} {
			_, err := e.AppendMessage(tx, MessageRecord{Queue: "q", MessageID: id})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = e.View(func(tx store.Txn) error {
		return e.ScanMessages(tx, "q", func(rec MessageRecord) (bool, error) {
			got = append(got, rec.MessageID)
			return true, nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestReceiptIndexStaleHandle(t *testing.T) {
	e := tempEngine(t)
	var msg MessageRecord
	err := e.Update(func(tx store.Txn) error {
		if err := e.CreateQueue(tx, QueueRecord{Name: "q"}); err != nil {
			return err
		}
		var err error
		msg, err = e.AppendMessage(tx, MessageRecord{Queue: "q", MessageID: "m1"})
		if err != nil {
			return err
		}
		if err := e.SetReceipt(tx, "q", "", "handle-1", msg); err != nil {
			return err
		}
		// Re-receive: handle-2 supersedes handle-1.
		return e.SetReceipt(tx, "q", "handle-1", "handle-2", msg)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx store.Txn) error {
		if _, err := e.GetMessageByReceipt(tx, "q", "handle-2"); err != nil {
			t.Fatalf("current handle: %v", err)
		}
		_, err := e.GetMessageByReceipt(tx, "q", "handle-1")
		if !api.IsInvalidReceiptHandle(err) {
			t.Fatalf("stale handle err = %v, want invalid receipt handle", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectGarbage(t *testing.T) {
	e := tempEngine(t)
	liveRef, err := e.PutBlob([]byte("referenced"))
	if err != nil {
		t.Fatal(err)
	}
	orphanRef, err := e.PutBlob([]byte("orphaned by a failed commit"))
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx store.Txn) error {
		if err := e.CreateBucket(tx, BucketRecord{Name: "b"}); err != nil {
			return err
		}
		seq, err := e.NextObjectSeq(tx, "b")
		if err != nil {
			return err
		}
		return e.PutObjectVersion(tx, ObjectRecord{
			Bucket: "b", Key: "k", VersionID: "v1", Seq: seq, BlobRef: string(liveRef),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	removed, err := e.CollectGarbage(0)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := e.GetBlob(liveRef); err != nil {
		t.Fatalf("live blob gone: %v", err)
	}
	if _, err := e.GetBlob(orphanRef); !api.IsNotFound(err) {
		t.Fatalf("orphan blob err = %v, want not found", err)
	}
}

func TestFailedCommitLeavesNoMetadata(t *testing.T) {
	e := tempEngine(t)
	ref, err := e.PutBlob([]byte("content written before the metadata txn"))
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = e.Update(func(tx store.Txn) error {
		if err := e.CreateBucket(tx, BucketRecord{Name: "b"}); err != nil {
			return err
		}
		seq, err := e.NextObjectSeq(tx, "b")
		if err != nil {
			return err
		}
		rec := ObjectRecord{Bucket: "b", Key: "k", VersionID: "v1", Seq: seq, BlobRef: string(ref)}
		if err := e.PutObjectVersion(tx, rec); err != nil {
			return err
		}
		if err := e.SetLatestObject(tx, rec); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// The rolled-back object must be invisible everywhere.
	err = e.View(func(tx store.Txn) error {
		if _, found, err := e.GetLatestObject(tx, "b", "k"); err != nil {
			return err
		} else if found {
			t.Fatal("rolled-back object visible as latest")
		}
		if _, err := e.GetBucket(tx, "b"); !api.IsNotFound(err) {
			t.Fatalf("rolled-back bucket err = %v, want not found", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// The blob is an orphan now; GC may reclaim it once the grace
	// window passes, but with a grace window it must survive.
	removed, err := e.CollectGarbage(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("removed %d fresh blobs inside the grace window", removed)
	}
}

func TestFunctionLifecycle(t *testing.T) {
	e := tempEngine(t)
	rec := FunctionRecord{Name: "thumbnailer", HandlerRef: "index.handler", Runtime: "nodejs20"}

	err := e.Update(func(tx store.Txn) error {
		return e.CreateFunction(tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx store.Txn) error {
		return e.CreateFunction(tx, rec)
	})
	if !api.IsConflict(err) {
		t.Fatalf("duplicate function err = %v, want conflict", err)
	}

	rec.Runtime = "nodejs22"
	err = e.Update(func(tx store.Txn) error {
		return e.UpdateFunction(tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx store.Txn) error {
		got, err := e.GetFunction(tx, "thumbnailer")
		if err != nil {
			return err
		}
		if got.Runtime != "nodejs22" {
			t.Fatalf("runtime = %q, want nodejs22", got.Runtime)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx store.Txn) error {
		return e.DeleteFunction(tx, "thumbnailer")
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Update(func(tx store.Txn) error {
		return e.UpdateFunction(tx, rec)
	})
	if !api.IsNotFound(err) {
		t.Fatalf("update after delete err = %v, want not found", err)
	}
}
