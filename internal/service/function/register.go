package function

import (
	"context"
	"encoding/json"
	"strconv"

	"cloudemu/internal/dispatch"
	"cloudemu/internal/engine"
	"cloudemu/pkg/api"
)

// Register installs the service's operations on the dispatcher for each
// provider. Environment variables travel in the body as a JSON object
// so they survive KeyedMap's flat string values.
func (s *Service) Register(d *dispatch.Dispatcher, providers ...api.Provider) error {
	ops := map[string]dispatch.HandlerFunc{
		"RegisterFunction": s.handleRegisterFunction,
		"GetFunction":      s.handleGetFunction,
		"UpdateFunction":   s.handleUpdateFunction,
		"DeleteFunction":   s.handleDeleteFunction,
		"ListFunctions":    s.handleListFunctions,
		"Invoke":           s.handleInvoke,
	}
	for _, p := range providers {
		for name, h := range ops {
			if err := d.Register(p, api.ServiceFunction, name, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func definitionFromOp(op api.Operation) (Definition, error) {
	name, err := op.Params.String("function")
	if err != nil {
		return Definition{}, err
	}
	handler, err := op.Params.String("handler_ref")
	if err != nil {
		return Definition{}, err
	}
	runtime, err := op.Params.String("runtime")
	if err != nil {
		return Definition{}, err
	}
	def := Definition{Name: name, HandlerRef: handler, Runtime: runtime}
	if len(op.Body) > 0 {
		if err := json.Unmarshal(op.Body, &def.EnvVars); err != nil {
			return Definition{}, api.InvalidArgumentf("environment must be a JSON object of strings: %v", err)
		}
	}
	return def, nil
}

func functionPayload(rec engine.FunctionRecord) api.KeyedMap {
	return api.KeyedMap{
		"function":    rec.Name,
		"handler_ref": rec.HandlerRef,
		"runtime":     rec.Runtime,
	}
}

func (s *Service) handleRegisterFunction(_ context.Context, op api.Operation) api.Result {
	def, err := definitionFromOp(op)
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.RegisterFunction(def)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(functionPayload(rec))
}

func (s *Service) handleGetFunction(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("function")
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.GetFunction(name)
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding function record"))
	}
	return api.OKBody(functionPayload(rec), body)
}

func (s *Service) handleUpdateFunction(_ context.Context, op api.Operation) api.Result {
	def, err := definitionFromOp(op)
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.UpdateFunction(def)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(functionPayload(rec))
}

func (s *Service) handleDeleteFunction(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("function")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteFunction(name); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleListFunctions(_ context.Context, op api.Operation) api.Result {
	funcs, err := s.ListFunctions()
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(funcs)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding function list"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(funcs))}, body)
}

func (s *Service) handleInvoke(ctx context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("function")
	if err != nil {
		return api.Fail(err)
	}
	out, err := s.Invoke(ctx, name, op.Body)
	if err != nil {
		return api.Fail(err)
	}
	return api.OKBody(api.KeyedMap{"function": name}, out)
}
