// Package function implements the function registry: named function
// definitions with a runtime, handler reference and environment, plus
// invocation through a pluggable Invoker. Actually running code in a
// container or sandbox is the invoker's business, not the registry's.
package function

import (
	"context"
	"log/slog"
	"time"

	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// Invoker executes a function definition against a payload. The
// registry resolves the definition; the invoker decides what executing
// it means.
type Invoker interface {
	Invoke(ctx context.Context, def engine.FunctionRecord, payload []byte) ([]byte, error)
}

// StubInvoker is the built-in no-runtime invoker: it echoes the payload
// back, which is enough for wiring tests and for callers that only care
// that the function exists and was routed.
type StubInvoker struct{}

func (StubInvoker) Invoke(_ context.Context, _ engine.FunctionRecord, payload []byte) ([]byte, error) {
	return payload, nil
}

// Definition is the caller-supplied part of a function record.
type Definition struct {
	Name       string
	HandlerRef string
	Runtime    string
	EnvVars    map[string]string
}

func (d Definition) validate() error {
	if d.Name == "" {
		return api.InvalidArgumentf("function name must not be empty")
	}
	if d.HandlerRef == "" {
		return api.InvalidArgumentf("function %q has no handler reference", d.Name)
	}
	if d.Runtime == "" {
		return api.InvalidArgumentf("function %q has no runtime", d.Name)
	}
	return nil
}

// Service handles function registry operations on the engine.
type Service struct {
	engine  *engine.Engine
	invoker Invoker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates the service. A nil invoker gets the stub.
func New(e *engine.Engine, inv Invoker) *Service {
	if inv == nil {
		inv = StubInvoker{}
	}
	return &Service{
		engine:  e,
		invoker: inv,
		logger:  logging.For("function"),
		now:     time.Now,
	}
}

// RegisterFunction stores a new definition; Conflict if the name is
// taken.
func (s *Service) RegisterFunction(def Definition) (engine.FunctionRecord, error) {
	if err := def.validate(); err != nil {
		return engine.FunctionRecord{}, err
	}
	now := s.now().UTC()
	rec := engine.FunctionRecord{
		Name:       def.Name,
		HandlerRef: def.HandlerRef,
		Runtime:    def.Runtime,
		EnvVars:    def.EnvVars,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.engine.Update(func(tx store.Txn) error {
		return s.engine.CreateFunction(tx, rec)
	})
	if err != nil {
		return engine.FunctionRecord{}, err
	}
	return rec, nil
}

// GetFunction returns one definition by name.
func (s *Service) GetFunction(name string) (engine.FunctionRecord, error) {
	var rec engine.FunctionRecord
	err := s.engine.View(func(tx store.Txn) error {
		var err error
		rec, err = s.engine.GetFunction(tx, name)
		return err
	})
	if err != nil {
		return engine.FunctionRecord{}, err
	}
	return rec, nil
}

// UpdateFunction replaces the whole definition, keeping the original
// creation time.
func (s *Service) UpdateFunction(def Definition) (engine.FunctionRecord, error) {
	if err := def.validate(); err != nil {
		return engine.FunctionRecord{}, err
	}
	var rec engine.FunctionRecord
	err := s.engine.Update(func(tx store.Txn) error {
		existing, err := s.engine.GetFunction(tx, def.Name)
		if err != nil {
			return err
		}
		rec = engine.FunctionRecord{
			Name:       def.Name,
			HandlerRef: def.HandlerRef,
			Runtime:    def.Runtime,
			EnvVars:    def.EnvVars,
			CreatedAt:  existing.CreatedAt,
			UpdatedAt:  s.now().UTC(),
		}
		return s.engine.UpdateFunction(tx, rec)
	})
	if err != nil {
		return engine.FunctionRecord{}, err
	}
	return rec, nil
}

// DeleteFunction removes a definition.
func (s *Service) DeleteFunction(name string) error {
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.DeleteFunction(tx, name)
	})
}

// ListFunctions returns all definitions ordered by name.
func (s *Service) ListFunctions() ([]engine.FunctionRecord, error) {
	var out []engine.FunctionRecord
	err := s.engine.View(func(tx store.Txn) error {
		var err error
		out, err = s.engine.ListFunctions(tx)
		return err
	})
	return out, err
}

// Invoke resolves the function and hands it to the invoker. The stored
// record is never mutated by invocation.
func (s *Service) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	rec, err := s.GetFunction(name)
	if err != nil {
		return nil, err
	}
	out, err := s.invoker.Invoke(ctx, rec, payload)
	if err != nil {
		return nil, api.IOErrorf(err, "invoking function %q", name)
	}
	s.logger.Debug("function invoked", "function", name, "runtime", rec.Runtime)
	return out, nil
}
