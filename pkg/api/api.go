// Package api defines the canonical operation surface between provider
// adapters and the emulator core. Adapters parse a provider's wire format
// into an Operation, hand it to the dispatcher, and serialize the Result
// back into the provider's expected envelope.
package api

import "strconv"

// Provider identifies which cloud a request was shaped like.
type Provider string

const (
	ProviderAWS     Provider = "aws"
	ProviderAzure   Provider = "azure"
	ProviderGCP     Provider = "gcp"
	ProviderPrivate Provider = "private"
)

// Providers lists every supported provider, in registration order.
func Providers() []Provider {
	return []Provider{ProviderAWS, ProviderAzure, ProviderGCP, ProviderPrivate}
}

// Service identifies a resource family within the core.
type Service string

const (
	ServiceObjectStore Service = "objectstore"
	ServiceItemStore   Service = "itemstore"
	ServiceQueue       Service = "queue"
	ServiceFunction    Service = "function"
)

// KeyedMap carries string-keyed operation parameters and result fields.
// Adapters populate it from query strings, headers or request documents;
// the typed getters validate on the way out.
type KeyedMap map[string]string

// String returns the value for key, or InvalidArgument if it is absent
// or empty.
func (m KeyedMap) String(key string) (string, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return "", InvalidArgumentf("missing required parameter %q", key)
	}
	return v, nil
}

// StringDefault returns the value for key, or def if absent.
func (m KeyedMap) StringDefault(key, def string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or InvalidArgument if it is
// absent or not an integer.
func (m KeyedMap) Int(key string) (int, error) {
	v, err := m.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, InvalidArgumentf("parameter %q is not an integer: %q", key, v)
	}
	return n, nil
}

// IntDefault returns the integer value for key, or def if absent.
// A present but malformed value is still InvalidArgument.
func (m KeyedMap) IntDefault(key string, def int) (int, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, InvalidArgumentf("parameter %q is not an integer: %q", key, v)
	}
	return n, nil
}

// Bool returns the boolean value for key ("true"/"false"), defaulting to
// false when absent.
func (m KeyedMap) Bool(key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, InvalidArgumentf("parameter %q is not a boolean: %q", key, v)
	}
	return b, nil
}

// Operation is a provider-agnostic request. Body carries the raw payload
// for operations that have one (object content, item documents, message
// bodies, invocation payloads).
type Operation struct {
	Provider Provider
	Service  Service
	Name     string
	Params   KeyedMap
	Body     []byte
}

// Status reports whether a Result succeeded.
type Status struct {
	OK      bool
	Kind    ErrorKind // meaningful only when !OK
	Message string    // meaningful only when !OK
}

// Result is the canonical response handed back to the provider adapter,
// which maps ErrorKind onto provider-specific status codes and envelopes.
type Result struct {
	Status  Status
	Payload KeyedMap
	Body    []byte
}

// OK builds a successful Result with the given payload fields.
func OK(payload KeyedMap) Result {
	if payload == nil {
		payload = KeyedMap{}
	}
	return Result{Status: Status{OK: true}, Payload: payload}
}

// OKBody builds a successful Result carrying a raw body.
func OKBody(payload KeyedMap, body []byte) Result {
	r := OK(payload)
	r.Body = body
	return r
}

// Fail builds an error Result from err. Errors without a Kind are
// reported as KindIO, so no fault ever leaves the core untyped.
func Fail(err error) Result {
	return Result{Status: Status{
		OK:      false,
		Kind:    KindOf(err),
		Message: err.Error(),
	}}
}
