package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"cloudemu/pkg/api"
)

// BucketRecord is the metadata row for one object-storage bucket.
type BucketRecord struct {
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at"`
	VersioningEnabled bool      `json:"versioning_enabled"`
	PolicyJSON        string    `json:"policy_json,omitempty"`
}

// ObjectRecord is one version row of an object. Key+VersionID is the
// identity; Seq orders versions of the same key chronologically.
type ObjectRecord struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	VersionID    string    `json:"version_id"`
	Seq          uint64    `json:"seq"`
	IsLatest     bool      `json:"is_latest"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type,omitempty"`
	BlobRef      string    `json:"blob_ref,omitempty"`
	DeleteMarker bool      `json:"delete_marker,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableRecord is the metadata row for one item table.
type TableRecord struct {
	Name             string    `json:"name"`
	PartitionKeyName string    `json:"partition_key_name"`
	SortKeyName      string    `json:"sort_key_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ItemRecord is one item. The document is opaque to the engine.
type ItemRecord struct {
	Table        string          `json:"table"`
	PartitionKey string          `json:"partition_key"`
	SortKey      string          `json:"sort_key,omitempty"`
	Document     json.RawMessage `json:"document"`
	VersionToken uint64          `json:"version_token"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// QueueRecord is the metadata row for one message queue.
type QueueRecord struct {
	Name              string    `json:"name"`
	VisibilityTimeout int       `json:"visibility_timeout_seconds"`
	MaxReceiveCount   int       `json:"max_receive_count"`
	DeadLetterQueue   string    `json:"dead_letter_queue,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// MessageRecord is one queued message. ReceiptHandle is only meaningful
// while VisibleAt is in the future (the message is in flight) and is
// regenerated on every receive.
type MessageRecord struct {
	Queue         string    `json:"queue"`
	MessageID     string    `json:"message_id"`
	Body          []byte    `json:"body"`
	Seq           uint64    `json:"seq"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	ReceiveCount  int       `json:"receive_count"`
	VisibleAt     time.Time `json:"visible_at"`
	ReceiptHandle string    `json:"receipt_handle,omitempty"`
}

// FunctionRecord is one registered function definition. Invocation
// never mutates it.
type FunctionRecord struct {
	Name       string            `json:"name"`
	HandlerRef string            `json:"handler_ref"`
	Runtime    string            `json:"runtime"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Top-level metadata buckets. Per-resource row buckets are derived from
// the resource name.
var (
	bucketsBucket   = []byte("buckets")
	tablesBucket    = []byte("tables")
	queuesBucket    = []byte("queues")
	functionsBucket = []byte("functions")
)

func objLatestBucket(bucket string) []byte   { return []byte("obj.latest." + bucket) }
func objVersionsBucket(bucket string) []byte { return []byte("obj.versions." + bucket) }
func itemsBucket(table string) []byte        { return []byte("item." + table) }
func messagesBucket(queue string) []byte     { return []byte("queue.msg." + queue) }
func receiptsBucket(queue string) []byte     { return []byte("queue.rcpt." + queue) }

// keySep separates composite key parts. Keys containing it are rejected.
const keySep = 0x00

// versionKey encodes key + seq so versions of one key sort together in
// chronological order.
func versionKey(key string, seq uint64) []byte {
	buf := make([]byte, 0, len(key)+9)
	buf = append(buf, key...)
	buf = append(buf, keySep)
	buf = binary.BigEndian.AppendUint64(buf, seq)
	return buf
}

// versionPrefix is the common prefix of every version row for key.
func versionPrefix(key string) []byte {
	return append([]byte(key), keySep)
}

// itemKey encodes (partition key, sort key) so items of one partition
// sort together, ordered by sort key ascending.
func itemKey(partitionKey, sortKey string) ([]byte, error) {
	if partitionKey == "" {
		return nil, api.InvalidArgumentf("partition key must not be empty")
	}
	if bytes.ContainsRune([]byte(partitionKey), keySep) || bytes.ContainsRune([]byte(sortKey), keySep) {
		return nil, api.InvalidArgumentf("keys must not contain NUL bytes")
	}
	buf := make([]byte, 0, len(partitionKey)+1+len(sortKey))
	buf = append(buf, partitionKey...)
	buf = append(buf, keySep)
	buf = append(buf, sortKey...)
	return buf, nil
}

// messageKey encodes enqueue sequence + message ID: FIFO order with the
// ID breaking ties.
func messageKey(seq uint64, messageID string) []byte {
	buf := make([]byte, 0, 8+len(messageID))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	return append(buf, messageID...)
}
