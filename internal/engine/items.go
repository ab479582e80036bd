package engine

import (
	"bytes"

	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// CreateTable inserts a table record; Conflict if the name is taken.
func (e *Engine) CreateTable(tx store.Txn, rec TableRecord) error {
	b, err := tx.Bucket(tablesBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) != nil {
		return api.Conflictf("table %q already exists", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// GetTable returns the table record for name.
func (e *Engine) GetTable(tx store.Txn, name string) (TableRecord, error) {
	b, err := tx.Bucket(tablesBucket)
	if err != nil {
		return TableRecord{}, err
	}
	data := b.Get([]byte(name))
	if data == nil {
		return TableRecord{}, api.NotFoundf("table %q not found", name)
	}
	var rec TableRecord
	if err := decode(data, &rec); err != nil {
		return TableRecord{}, err
	}
	return rec, nil
}

// DeleteTable removes an empty table; Conflict if items remain.
func (e *Engine) DeleteTable(tx store.Txn, name string) error {
	b, err := tx.Bucket(tablesBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(name)) == nil {
		return api.NotFoundf("table %q not found", name)
	}
	items, err := tx.Bucket(itemsBucket(name))
	if err != nil {
		return err
	}
	empty := true
	err = items.Scan(nil, func(k, v []byte) (bool, error) {
		empty = false
		return false, nil
	})
	if err != nil {
		return err
	}
	if !empty {
		return api.Conflictf("table %q is not empty", name)
	}
	if err := tx.DeleteBucket(itemsBucket(name)); err != nil {
		return err
	}
	return b.Delete([]byte(name))
}

// ListTables returns every table record, ordered by name.
func (e *Engine) ListTables(tx store.Txn) ([]TableRecord, error) {
	b, err := tx.Bucket(tablesBucket)
	if err != nil {
		return nil, err
	}
	var out []TableRecord
	err = b.ForEach(func(k, v []byte) error {
		var rec TableRecord
		if err := decode(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// GetItem returns the item at (partitionKey, sortKey). The bool reports
// presence.
func (e *Engine) GetItem(tx store.Txn, table, partitionKey, sortKey string) (ItemRecord, bool, error) {
	key, err := itemKey(partitionKey, sortKey)
	if err != nil {
		return ItemRecord{}, false, err
	}
	b, err := tx.Bucket(itemsBucket(table))
	if err != nil {
		return ItemRecord{}, false, err
	}
	data := b.Get(key)
	if data == nil {
		return ItemRecord{}, false, nil
	}
	var rec ItemRecord
	if err := decode(data, &rec); err != nil {
		return ItemRecord{}, false, err
	}
	return rec, true, nil
}

// PutItem upserts an item row. The caller owns version-token handling.
func (e *Engine) PutItem(tx store.Txn, rec ItemRecord) error {
	key, err := itemKey(rec.PartitionKey, rec.SortKey)
	if err != nil {
		return err
	}
	b, err := tx.Bucket(itemsBucket(rec.Table))
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// DeleteItem removes the item at (partitionKey, sortKey); NotFound if it
// does not exist.
func (e *Engine) DeleteItem(tx store.Txn, table, partitionKey, sortKey string) error {
	key, err := itemKey(partitionKey, sortKey)
	if err != nil {
		return err
	}
	b, err := tx.Bucket(itemsBucket(table))
	if err != nil {
		return err
	}
	if b.Get(key) == nil {
		return api.NotFoundf("item not found in table %q", table)
	}
	return b.Delete(key)
}

// QueryItems visits every item sharing partitionKey, ordered by sort key
// ascending.
func (e *Engine) QueryItems(tx store.Txn, table, partitionKey string, fn func(ItemRecord) (bool, error)) error {
	prefix, err := itemKey(partitionKey, "")
	if err != nil {
		return err
	}
	b, err := tx.Bucket(itemsBucket(table))
	if err != nil {
		return err
	}
	return b.Scan(prefix, func(k, v []byte) (bool, error) {
		if !bytes.HasPrefix(k, prefix) {
			return false, nil
		}
		var rec ItemRecord
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		return fn(rec)
	})
}

// ScanItems visits every item in the table in key order, starting at the
// first encoded key >= start (nil for the beginning). The raw key is
// passed to fn for building pagination cursors.
func (e *Engine) ScanItems(tx store.Txn, table string, start []byte, fn func(key []byte, rec ItemRecord) (bool, error)) error {
	b, err := tx.Bucket(itemsBucket(table))
	if err != nil {
		return err
	}
	return b.Scan(start, func(k, v []byte) (bool, error) {
		var rec ItemRecord
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		return fn(k, rec)
	})
}
