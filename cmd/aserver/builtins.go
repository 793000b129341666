package main

import (
	"log/slog"

	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/testutil"
)

// registerBuiltins registers the component types compiled into this
// binary. Configuration entries reference these by type name.
func registerBuiltins(reg *registry.Registry) {
	if err := reg.RegisterType("TestComponent", testutil.Descriptor()); err != nil {
		slog.Warn("Builtin registration failed", "type", "TestComponent", "error", err)
	}
}
