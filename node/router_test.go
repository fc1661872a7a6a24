// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"testing"

	"github.com/cordon-foundation/cordon/lib/ref"
)

func testMethod(t *testing.T, name string) ref.Method {
	t.Helper()
	method, err := ref.NewMethod(name)
	if err != nil {
		t.Fatalf("NewMethod(%q): %v", name, err)
	}
	return method
}

func nopHandler(ctx context.Context, call *Call) ([]byte, error) {
	return nil, nil
}

func TestRouterMethodsSorted(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "status/ping"), nopHandler)
	router.Handle(testMethod(t, "data/read"), nopHandler)
	router.Handle(testMethod(t, "data/write"), nopHandler)

	methods := router.Methods()
	want := []string{"data/read", "data/write", "status/ping"}
	if len(methods) != len(want) {
		t.Fatalf("got %d methods, want %d", len(methods), len(want))
	}
	for i, method := range methods {
		if method.String() != want[i] {
			t.Errorf("methods[%d]: got %s, want %s", i, method, want[i])
		}
	}
}

func TestRouterDuplicatePanics(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "status/ping"), nopHandler)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	router.Handle(testMethod(t, "status/ping"), nopHandler)
}

func TestRouterNilHandlerPanics(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	defer func() {
		if recover() == nil {
			t.Error("nil handler registration did not panic")
		}
	}()
	router.Handle(testMethod(t, "status/ping"), nil)
}

func TestRouterEmptyMethodPanics(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	defer func() {
		if recover() == nil {
			t.Error("empty method registration did not panic")
		}
	}()
	router.Handle(ref.Method{}, nopHandler)
}

func TestRouterLabelsCopied(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	labels := map[string]string{"action": "read"}
	router.HandleWithLabels(testMethod(t, "data/read"), labels, nopHandler)
	labels["action"] = "mutated"

	rt, ok := router.lookup(testMethod(t, "data/read"))
	if !ok {
		t.Fatal("lookup failed")
	}
	if got := rt.labels["action"]; got != "read" {
		t.Errorf("label after caller mutation: got %q, want %q", got, "read")
	}
}
