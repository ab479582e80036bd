package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestKeyedMapString(t *testing.T) {
	m := KeyedMap{"bucket": "photos"}

	v, err := m.String("bucket")
	if err != nil {
		t.Fatal(err)
	}
	if v != "photos" {
		t.Fatalf("String = %q, want %q", v, "photos")
	}

	_, err = m.String("missing")
	if !IsInvalidArgument(err) {
		t.Fatalf("missing key: err = %v, want invalid argument", err)
	}
}

func TestKeyedMapInt(t *testing.T) {
	m := KeyedMap{"count": "5", "bad": "five"}

	n, err := m.Int("count")
	if err != nil || n != 5 {
		t.Fatalf("Int = %d, %v, want 5, nil", n, err)
	}

	if _, err := m.Int("bad"); !IsInvalidArgument(err) {
		t.Fatalf("malformed int: err = %v, want invalid argument", err)
	}

	n, err = m.IntDefault("absent", 10)
	if err != nil || n != 10 {
		t.Fatalf("IntDefault = %d, %v, want 10, nil", n, err)
	}

	if _, err := m.IntDefault("bad", 10); !IsInvalidArgument(err) {
		t.Fatalf("present malformed int must not fall back to default, got %v", err)
	}
}

func TestKeyedMapBool(t *testing.T) {
	m := KeyedMap{"enabled": "true", "bad": "yep"}

	b, err := m.Bool("enabled")
	if err != nil || !b {
		t.Fatalf("Bool = %v, %v, want true, nil", b, err)
	}

	b, err = m.Bool("absent")
	if err != nil || b {
		t.Fatalf("absent Bool = %v, %v, want false, nil", b, err)
	}

	if _, err := m.Bool("bad"); !IsInvalidArgument(err) {
		t.Fatalf("malformed bool: err = %v, want invalid argument", err)
	}
}

func TestFailClassifiesKind(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{NotFoundf("no such bucket"), KindNotFound},
		{Conflictf("bucket exists"), KindConflict},
		{InvalidArgumentf("bad cursor"), KindInvalidArgument},
		{InvalidReceiptHandlef("stale handle"), KindInvalidReceiptHandle},
		{NotImplementedf("unknown op"), KindNotImplemented},
		{errors.New("disk on fire"), KindIO},
	}
	for _, tc := range cases {
		r := Fail(tc.err)
		if r.Status.OK {
			t.Fatalf("Fail(%v) reported OK", tc.err)
		}
		if r.Status.Kind != tc.kind {
			t.Fatalf("Fail(%v) kind = %v, want %v", tc.err, r.Status.Kind, tc.kind)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("putting object: %w", Conflictf("key busy"))
	if !IsConflict(err) {
		t.Fatal("wrapped conflict not detected")
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("KindOf = %v, want conflict", KindOf(err))
	}
}

func TestIOErrorfWraps(t *testing.T) {
	cause := errors.New("short write")
	err := IOErrorf(cause, "writing blob")
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable via errors.Is")
	}
	if KindOf(err) != KindIO {
		t.Fatalf("KindOf = %v, want io", KindOf(err))
	}
}

func TestOKPayloadNeverNil(t *testing.T) {
	r := OK(nil)
	if !r.Status.OK {
		t.Fatal("OK result not ok")
	}
	if r.Payload == nil {
		t.Fatal("payload should be initialized")
	}
}
