package engine

import (
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// CreateFunction inserts a function record; Conflict if the name is
// taken.
func (e *Engine) CreateFunction(tx store.Txn, rec FunctionRecord) error {
	b, err := tx.Bucket(functionsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) != nil {
		return api.Conflictf("function %q already exists", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// GetFunction returns the function record for name.
func (e *Engine) GetFunction(tx store.Txn, name string) (FunctionRecord, error) {
	b, err := tx.Bucket(functionsBucket)
	if err != nil {
		return FunctionRecord{}, err
	}
	data := b.Get([]byte(name))
	if data == nil {
		return FunctionRecord{}, api.NotFoundf("function %q not found", name)
	}
	var rec FunctionRecord
	if err := decode(data, &rec); err != nil {
		return FunctionRecord{}, err
	}
	return rec, nil
}

// UpdateFunction replaces an existing function record.
func (e *Engine) UpdateFunction(tx store.Txn, rec FunctionRecord) error {
	b, err := tx.Bucket(functionsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) == nil {
		return api.NotFoundf("function %q not found", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// DeleteFunction removes a function record.
func (e *Engine) DeleteFunction(tx store.Txn, name string) error {
	b, err := tx.Bucket(functionsBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(name)) == nil {
		return api.NotFoundf("function %q not found", name)
	}
	return b.Delete([]byte(name))
}

// ListFunctions returns every function record, ordered by name.
func (e *Engine) ListFunctions(tx store.Txn) ([]FunctionRecord, error) {
	b, err := tx.Bucket(functionsBucket)
	if err != nil {
		return nil, err
	}
	var out []FunctionRecord
	err = b.ForEach(func(k, v []byte) error {
		var rec FunctionRecord
		if err := decode(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
