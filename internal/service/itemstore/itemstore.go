// Package itemstore implements the schemaless item store: tables of
// opaque documents addressed by partition and sort key, with optimistic
// concurrency via version tokens. The engine never inspects document
// contents; key fields arrive explicitly.
package itemstore

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// Key addresses one item.
type Key struct {
	PartitionKey string
	SortKey      string
}

// SortCondition filters a query server-side. Zero value means no
// filtering.
type SortCondition struct {
	Equals string
	Prefix string
	// Low/High bound an inclusive range; empty means unbounded on
	// that side.
	Low, High string
}

func (c SortCondition) isZero() bool {
	return c.Equals == "" && c.Prefix == "" && c.Low == "" && c.High == ""
}

func (c SortCondition) matches(sortKey string) bool {
	switch {
	case c.Equals != "":
		return sortKey == c.Equals
	case c.Prefix != "":
		return strings.HasPrefix(sortKey, c.Prefix)
	default:
		if c.Low != "" && sortKey < c.Low {
			return false
		}
		if c.High != "" && sortKey > c.High {
			return false
		}
		return true
	}
}

// Service handles item store operations on the engine.
type Service struct {
	engine *engine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New creates the service.
func New(e *engine.Engine) *Service {
	return &Service{
		engine: e,
		logger: logging.For("itemstore"),
		now:    time.Now,
	}
}

// CreateTable registers a table; Conflict if the name is taken.
func (s *Service) CreateTable(name, partitionKeyName, sortKeyName string) error {
	if name == "" || partitionKeyName == "" {
		return api.InvalidArgumentf("table name and partition key name are required")
	}
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.CreateTable(tx, engine.TableRecord{
			Name:             name,
			PartitionKeyName: partitionKeyName,
			SortKeyName:      sortKeyName,
			CreatedAt:        s.now().UTC(),
		})
	})
}

// DeleteTable removes an empty table.
func (s *Service) DeleteTable(name string) error {
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.DeleteTable(tx, name)
	})
}

// ListTables returns all tables ordered by name.
func (s *Service) ListTables() ([]engine.TableRecord, error) {
	var out []engine.TableRecord
	err := s.engine.View(func(tx store.Txn) error {
		var err error
		out, err = s.engine.ListTables(tx)
		return err
	})
	return out, err
}

// PutItem replaces the whole document at key. A new item starts at
// version token 1; every successful write increments it.
func (s *Service) PutItem(table string, key Key, doc json.RawMessage) (engine.ItemRecord, error) {
	if !json.Valid(doc) {
		return engine.ItemRecord{}, api.InvalidArgumentf("document is not valid JSON")
	}
	var rec engine.ItemRecord
	err := s.engine.Update(func(tx store.Txn) error {
		tbl, err := s.engine.GetTable(tx, table)
		if err != nil {
			return err
		}
		if err := validateKey(tbl, key); err != nil {
			return err
		}
		existing, found, err := s.engine.GetItem(tx, table, key.PartitionKey, key.SortKey)
		if err != nil {
			return err
		}
		rec = engine.ItemRecord{
			Table:        table,
			PartitionKey: key.PartitionKey,
			SortKey:      key.SortKey,
			Document:     doc,
			VersionToken: 1,
			UpdatedAt:    s.now().UTC(),
		}
		if found {
			rec.VersionToken = existing.VersionToken + 1
		}
		return s.engine.PutItem(tx, rec)
	})
	if err != nil {
		return engine.ItemRecord{}, err
	}
	return rec, nil
}

// GetItem returns the item at key.
func (s *Service) GetItem(table string, key Key) (engine.ItemRecord, error) {
	var rec engine.ItemRecord
	err := s.engine.View(func(tx store.Txn) error {
		tbl, err := s.engine.GetTable(tx, table)
		if err != nil {
			return err
		}
		if err := validateKey(tbl, key); err != nil {
			return err
		}
		got, found, err := s.engine.GetItem(tx, table, key.PartitionKey, key.SortKey)
		if err != nil {
			return err
		}
		if !found {
			return api.NotFoundf("item not found in table %q", table)
		}
		rec = got
		return nil
	})
	return rec, err
}

// DeleteItem removes the item at key.
func (s *Service) DeleteItem(table string, key Key) error {
	return s.engine.Update(func(tx store.Txn) error {
		tbl, err := s.engine.GetTable(tx, table)
		if err != nil {
			return err
		}
		if err := validateKey(tbl, key); err != nil {
			return err
		}
		return s.engine.DeleteItem(tx, table, key.PartitionKey, key.SortKey)
	})
}

// Query returns items sharing partitionKey, ordered by sort key
// ascending, optionally filtered by cond.
func (s *Service) Query(table, partitionKey string, cond SortCondition) ([]engine.ItemRecord, error) {
	var out []engine.ItemRecord
	err := s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetTable(tx, table); err != nil {
			return err
		}
		return s.engine.QueryItems(tx, table, partitionKey, func(rec engine.ItemRecord) (bool, error) {
			if cond.isZero() || cond.matches(rec.SortKey) {
				out = append(out, rec)
			}
			return true, nil
		})
	})
	return out, err
}

// ConditionalUpdate replaces the document only when the stored version
// token still equals expectedVersion; otherwise Conflict. The caller
// retries with a refetched token — this service never retries.
func (s *Service) ConditionalUpdate(table string, key Key, expectedVersion uint64, doc json.RawMessage) (engine.ItemRecord, error) {
	if !json.Valid(doc) {
		return engine.ItemRecord{}, api.InvalidArgumentf("document is not valid JSON")
	}
	var rec engine.ItemRecord
	err := s.engine.Update(func(tx store.Txn) error {
		tbl, err := s.engine.GetTable(tx, table)
		if err != nil {
			return err
		}
		if err := validateKey(tbl, key); err != nil {
			return err
		}
		existing, found, err := s.engine.GetItem(tx, table, key.PartitionKey, key.SortKey)
		if err != nil {
			return err
		}
		if !found {
			return api.NotFoundf("item not found in table %q", table)
		}
		if existing.VersionToken != expectedVersion {
			return api.Conflictf("version token mismatch: stored %d, expected %d",
				existing.VersionToken, expectedVersion)
		}
		rec = engine.ItemRecord{
			Table:        table,
			PartitionKey: key.PartitionKey,
			SortKey:      key.SortKey,
			Document:     doc,
			VersionToken: existing.VersionToken + 1,
			UpdatedAt:    s.now().UTC(),
		}
		return s.engine.PutItem(tx, rec)
	})
	if err != nil {
		return engine.ItemRecord{}, err
	}
	return rec, nil
}

// ScanResult is one page of a full-table scan.
type ScanResult struct {
	Items      []engine.ItemRecord
	Truncated  bool
	NextCursor string
}

// Scan pages through every item in key order. The cursor is opaque to
// callers; a corrupted one is InvalidArgument.
func (s *Service) Scan(table, cursor string, limit int) (ScanResult, error) {
	if limit <= 0 {
		limit = 100
	}
	start, err := decodeCursor(cursor)
	if err != nil {
		return ScanResult{}, err
	}
	var res ScanResult
	err = s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetTable(tx, table); err != nil {
			return err
		}
		var lastKey []byte
		return s.engine.ScanItems(tx, table, start, func(key []byte, rec engine.ItemRecord) (bool, error) {
			if len(res.Items) == limit {
				res.Truncated = true
				res.NextCursor = encodeCursor(lastKey)
				return false, nil
			}
			res.Items = append(res.Items, rec)
			lastKey = append([]byte(nil), key...)
			return true, nil
		})
	})
	if err != nil {
		return ScanResult{}, err
	}
	return res, nil
}

func validateKey(tbl engine.TableRecord, key Key) error {
	if key.PartitionKey == "" {
		return api.InvalidArgumentf("partition key %q is required", tbl.PartitionKeyName)
	}
	if tbl.SortKeyName == "" && key.SortKey != "" {
		return api.InvalidArgumentf("table %q has no sort key", tbl.Name)
	}
	if tbl.SortKeyName != "" && key.SortKey == "" {
		return api.InvalidArgumentf("sort key %q is required", tbl.SortKeyName)
	}
	return nil
}
