// Package store defines the transactional key-value interface behind the
// metadata side of the storage engine. The initial implementation uses
// bbolt; the interface allows swapping to Badger, Pebble, SQLite, etc.
// without touching the engine or the services.
package store

// Store is an embedded ACID store organized into named, byte-ordered
// buckets. One writable transaction runs at a time; readers never block.
type Store interface {
	// Begin opens a transaction. Writable transactions must end with
	// Commit or Rollback; read-only ones with Rollback.
	Begin(writable bool) (Txn, error)

	// View runs fn in a read-only transaction, rolling back when it
	// returns.
	View(fn func(Txn) error) error

	// Update runs fn in a writable transaction, committing if fn
	// returns nil and rolling back otherwise (including on panic).
	Update(fn func(Txn) error) error

	Close() error
}

// Txn is a single transaction. All reads and writes made through it are
// atomic: either the whole transaction commits or none of it is visible.
type Txn interface {
	// Bucket returns the named bucket, creating it first when the
	// transaction is writable. Read-only transactions get an empty
	// read view for buckets that do not exist yet.
	Bucket(name []byte) (Bucket, error)

	// DeleteBucket removes a bucket and everything in it. Missing
	// buckets are not an error.
	DeleteBucket(name []byte) error

	Commit() error
	Rollback() error
}

// Bucket is a byte-ordered key space within a transaction.
type Bucket interface {
	// Get returns the value for key, or nil if absent. The returned
	// slice is only valid for the life of the transaction.
	Get(key []byte) []byte

	Put(key, value []byte) error
	Delete(key []byte) error

	// NextSequence returns a monotonically increasing counter for the
	// bucket, used for FIFO and version ordering.
	NextSequence() (uint64, error)

	// ForEach visits every pair in key order.
	ForEach(fn func(key, value []byte) error) error

	// Scan visits pairs in key order starting at the first key >= start
	// (nil means the beginning). fn returns false to stop early.
	Scan(start []byte, fn func(key, value []byte) (bool, error)) error
}
