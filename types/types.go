// Package types defines the shared value model for the analysis server:
// the set of variable kinds exposed through the wire protocol, variable
// metadata, and the System capability the server requires from a wrapped
// computational object.
//
// The protocol is polymorphic over a closed set of value kinds. A native
// value handed to the server must be one of:
//
//	bool, int64, float64, string, *Array, *List, *FileRef
//
// Arrays are rectangular and homogeneous (float/int/string elements); Lists
// share the Array encoding but are always rank 1 and never reshape.
package types

import (
	"fmt"
	"io"
	"os"
)

// ElemKind identifies the element type of an Array or List.
type ElemKind int

const (
	// Float elements, wire type "double".
	Float ElemKind = iota
	// Int elements, wire type "long".
	Int
	// String elements, wire type "java.lang.String".
	String
)

// String returns the wire component-type string for the element kind.
func (k ElemKind) String() string {
	switch k {
	case Float:
		return "double"
	case Int:
		return "long"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Array is a rectangular N-dimensional array with homogeneous elements
// stored flat in row-major order. Exactly one of F, I, S is populated,
// selected by Kind.
type Array struct {
	Dims []int
	Kind ElemKind
	F    []float64
	I    []int64
	S    []string
}

// Len returns the number of elements.
func (a *Array) Len() int {
	switch a.Kind {
	case Float:
		return len(a.F)
	case Int:
		return len(a.I)
	default:
		return len(a.S)
	}
}

// Size returns the product of the declared dimensions.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// List is a homogeneous rank-1 sequence. It shares the Array wire encoding
// but reports lockResize=false and never carries a bounds prefix.
type List struct {
	Kind ElemKind
	F    []float64
	I    []int64
	S    []string
}

// Len returns the number of elements.
func (l *List) Len() int {
	switch l.Kind {
	case Float:
		return len(l.F)
	case Int:
		return len(l.I)
	default:
		return len(l.S)
	}
}

// FileRef refers to a file owned by a component. Binary files transfer as
// base64; text files transfer with C-style escaping.
type FileRef struct {
	Path   string
	Binary bool
}

// Open opens the referenced file for reading.
func (f *FileRef) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Read returns the full file contents.
func (f *FileRef) Read() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Write replaces the file contents.
func (f *FileRef) Write(data []byte) error {
	return os.WriteFile(f.Path, data, 0o644)
}

// Metadata carries per-variable descriptive data fetched once at wrapper
// construction. Absent bounds report hasLowerBound/hasUpperBound "false".
type Metadata struct {
	Description string
	Units       string
	HasLower    bool
	Lower       float64
	HasUpper    bool
	Upper       float64
}

// System is the external capability the protocol core requires from a
// wrapped computational object. Implementations live outside this module;
// the server never needs more than this surface.
type System interface {
	// Get returns the current value of the named internal variable.
	Get(name string) (any, error)
	// Set replaces the value of the named internal variable.
	Set(name string, value any) error
	// Invoke calls the named method; a nil result produces an empty reply.
	Invoke(method string) (any, error)
	// Run executes the component.
	Run() error
	// Metadata returns descriptive data for the named variable.
	Metadata(name string) (Metadata, error)
	// Pathname returns the component's hierarchical pathname, used in
	// diagnostics.
	Pathname() string
	// Directory returns the component's working directory, used for
	// file monitor support.
	Directory() string
	// PreDelete releases external resources before the instance is ended.
	PreDelete()
}

// KindOf returns a short name for the dynamic kind of a native value, or an
// error for unsupported types. Used in diagnostics when wrapper selection
// fails.
func KindOf(val any) (string, error) {
	switch val.(type) {
	case bool:
		return "bool", nil
	case int64:
		return "int", nil
	case float64:
		return "float", nil
	case string:
		return "string", nil
	case *Array:
		return "array", nil
	case *List:
		return "list", nil
	case *FileRef:
		return "file", nil
	default:
		return "", fmt.Errorf("unsupported variable type %T", val)
	}
}
