package itemstore

import (
	"context"
	"encoding/json"
	"strconv"

	"cloudemu/internal/dispatch"
	"cloudemu/pkg/api"
)

// Register installs the service's operations on the dispatcher for each
// provider.
func (s *Service) Register(d *dispatch.Dispatcher, providers ...api.Provider) error {
	ops := map[string]dispatch.HandlerFunc{
		"CreateTable":       s.handleCreateTable,
		"DeleteTable":       s.handleDeleteTable,
		"ListTables":        s.handleListTables,
		"PutItem":           s.handlePutItem,
		"GetItem":           s.handleGetItem,
		"DeleteItem":        s.handleDeleteItem,
		"Query":             s.handleQuery,
		"ConditionalUpdate": s.handleConditionalUpdate,
		"Scan":              s.handleScan,
	}
	for _, p := range providers {
		for name, h := range ops {
			if err := d.Register(p, api.ServiceItemStore, name, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func keyFromParams(params api.KeyedMap) (Key, error) {
	pk, err := params.String("partition_key")
	if err != nil {
		return Key{}, err
	}
	return Key{
		PartitionKey: pk,
		SortKey:      params.StringDefault("sort_key", ""),
	}, nil
}

func (s *Service) handleCreateTable(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	pkName, err := op.Params.String("partition_key_name")
	if err != nil {
		return api.Fail(err)
	}
	err = s.CreateTable(name, pkName, op.Params.StringDefault("sort_key_name", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{"table": name})
}

func (s *Service) handleDeleteTable(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteTable(name); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleListTables(_ context.Context, op api.Operation) api.Result {
	tables, err := s.ListTables()
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(tables)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding table list"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(tables))}, body)
}

func (s *Service) handlePutItem(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	key, err := keyFromParams(op.Params)
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.PutItem(table, key, op.Body)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{
		"version_token": strconv.FormatUint(rec.VersionToken, 10),
	})
}

func (s *Service) handleGetItem(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	key, err := keyFromParams(op.Params)
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.GetItem(table, key)
	if err != nil {
		return api.Fail(err)
	}
	return api.OKBody(api.KeyedMap{
		"version_token": strconv.FormatUint(rec.VersionToken, 10),
	}, rec.Document)
}

func (s *Service) handleDeleteItem(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	key, err := keyFromParams(op.Params)
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteItem(table, key); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleQuery(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	pk, err := op.Params.String("partition_key")
	if err != nil {
		return api.Fail(err)
	}
	cond := SortCondition{
		Equals: op.Params.StringDefault("sort_equals", ""),
		Prefix: op.Params.StringDefault("sort_prefix", ""),
		Low:    op.Params.StringDefault("sort_low", ""),
		High:   op.Params.StringDefault("sort_high", ""),
	}
	items, err := s.Query(table, pk, cond)
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(items)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding query result"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(items))}, body)
}

func (s *Service) handleConditionalUpdate(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	key, err := keyFromParams(op.Params)
	if err != nil {
		return api.Fail(err)
	}
	expected, err := op.Params.Int("expected_version")
	if err != nil {
		return api.Fail(err)
	}
	if expected < 0 {
		return api.Fail(api.InvalidArgumentf("expected_version must not be negative"))
	}
	rec, err := s.ConditionalUpdate(table, key, uint64(expected), op.Body)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{
		"version_token": strconv.FormatUint(rec.VersionToken, 10),
	})
}

func (s *Service) handleScan(_ context.Context, op api.Operation) api.Result {
	table, err := op.Params.String("table")
	if err != nil {
		return api.Fail(err)
	}
	limit, err := op.Params.IntDefault("limit", 0)
	if err != nil {
		return api.Fail(err)
	}
	res, err := s.Scan(table, op.Params.StringDefault("cursor", ""), limit)
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(res.Items)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding scan result"))
	}
	payload := api.KeyedMap{
		"count":     strconv.Itoa(len(res.Items)),
		"truncated": strconv.FormatBool(res.Truncated),
	}
	if res.NextCursor != "" {
		payload["next_cursor"] = res.NextCursor
	}
	return api.OKBody(payload, body)
}
