// Package testutil provides an in-process component for exercising the
// server without external simulation codes. TestComponent implements
// types.System with a representative variable surface: scalars of every
// kind, bounded and united values, arrays of several ranks, lists, files,
// and a grouped sub-hierarchy.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/types"
)

// variable is one named value with its metadata.
type variable struct {
	value any
	meta  types.Metadata
	input bool
}

// TestComponent multiplies x by y into z, counts executions, and copies
// its input file to its output file.
type TestComponent struct {
	mu   sync.Mutex
	dir  string
	own  bool // dir was created by us and is removed on PreDelete
	vars map[string]*variable
}

var _ types.System = (*TestComponent)(nil)

// New creates a TestComponent working in dir.
func New(dir string) *TestComponent {
	c := &TestComponent{dir: dir, vars: make(map[string]*variable)}

	c.addInput("x", 2.0, types.Metadata{Description: "X input"})
	c.addInput("y", 3.0, types.Metadata{
		Description: "Y input", Units: "ft",
		HasLower: true, Lower: -10, HasUpper: true, Upper: 10,
	})
	c.addOutput("z", 0.0, types.Metadata{Description: "Z output", Units: "ft"})
	c.addOutput("exe_count", int64(0), types.Metadata{Description: "Execution count"})
	c.addOutput("exe_dir", "", types.Metadata{Description: "Execution directory"})

	c.addInput("in_file",
		&types.FileRef{Path: filepath.Join(dir, "inFile.data")},
		types.Metadata{Description: "Input file"})
	c.addOutput("out_file",
		&types.FileRef{Path: filepath.Join(dir, "outFile.data")},
		types.Metadata{Description: "Output file"})

	c.addInput("sub_group:b", true, types.Metadata{Description: "A boolean"})
	c.addInput("sub_group:f", 0.5, types.Metadata{Description: "A float"})
	c.addInput("sub_group:i", int64(7), types.Metadata{Description: "An int"})
	c.addInput("sub_group:s", "Hello World!  ( & < > )",
		types.Metadata{Description: "A string"})

	c.addInput("sub_group:f1d", &types.Array{
		Dims: []int{9},
		Kind: types.Float,
		F:    []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5, 9.5},
	}, types.Metadata{
		Description: "1D float array", Units: "cm",
		HasLower: true, Lower: 0, HasUpper: true, Upper: 10,
	})
	c.addInput("sub_group:f2d", &types.Array{
		Dims: []int{2, 4},
		Kind: types.Float,
		F:    []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5},
	}, types.Metadata{Description: "2D float array", Units: "mm"})
	c.addInput("sub_group:i1d", &types.Array{
		Dims: []int{9},
		Kind: types.Int,
		I:    []int64{1, 2, 3, 4, 5, 6, 7, 8, 9},
	}, types.Metadata{Description: "1D int array"})
	c.addInput("sub_group:s1d", &types.Array{
		Dims: []int{3},
		Kind: types.String,
		S:    []string{"Hello", "from", "TestComponent.SubGroup"},
	}, types.Metadata{Description: "1D string array"})
	c.addInput("sub_group:flst", &types.List{Kind: types.Float},
		types.Metadata{Description: "List of floats"})
	c.addInput("sub_group:ilst", &types.List{Kind: types.Int},
		types.Metadata{Description: "List of ints"})

	return c
}

func (c *TestComponent) addInput(name string, value any, meta types.Metadata) {
	c.vars[name] = &variable{value: value, meta: meta, input: true}
}

func (c *TestComponent) addOutput(name string, value any, meta types.Metadata) {
	c.vars[name] = &variable{value: value, meta: meta}
}

// Descriptor declares the component's surface for the registry.
func Descriptor() registry.Descriptor {
	inputs := []string{
		"x", "y", "in_file",
		"sub_group:b", "sub_group:f", "sub_group:i", "sub_group:s",
		"sub_group:f1d", "sub_group:f2d", "sub_group:i1d", "sub_group:s1d",
		"sub_group:flst", "sub_group:ilst",
	}
	outputs := []string{"z", "exe_count", "exe_dir", "out_file"}
	methods := []string{
		"cause_exception", "float_method", "int_method", "null_method",
		"str_method",
	}
	return registry.Descriptor{
		Inputs:  inputs,
		Outputs: outputs,
		Methods: methods,
		Factory: func() (types.System, error) {
			dir, err := os.MkdirTemp("", "aserver-testcomp-")
			if err != nil {
				return nil, err
			}
			c := New(dir)
			c.own = true
			return c, nil
		},
	}
}

func (c *TestComponent) lookup(name string) (*variable, error) {
	v, ok := c.vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	return v, nil
}

// Get returns the current value of the named variable.
func (c *TestComponent) Get(name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return v.value, nil
}

// Set replaces the value of the named variable.
func (c *TestComponent) Set(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.lookup(name)
	if err != nil {
		return err
	}
	v.value = value
	return nil
}

// Metadata returns descriptive data for the named variable.
func (c *TestComponent) Metadata(name string) (types.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.lookup(name)
	if err != nil {
		return types.Metadata{}, err
	}
	return v.meta, nil
}

// Run computes z = x * y, bumps the execution count and copies the input
// file to the output file when present.
func (c *TestComponent) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	x := c.vars["x"].value.(float64)
	y := c.vars["y"].value.(float64)
	if x < 0 {
		return fmt.Errorf("x %g is < 0", x)
	}
	c.vars["z"].value = x * y
	c.vars["exe_count"].value = c.vars["exe_count"].value.(int64) + 1
	c.vars["exe_dir"].value = c.dir

	in := c.vars["in_file"].value.(*types.FileRef)
	if data, err := in.Read(); err == nil {
		out := c.vars["out_file"].value.(*types.FileRef)
		if err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// Invoke calls one of the published methods.
func (c *TestComponent) Invoke(method string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "cause_exception":
		return nil, fmt.Errorf("It's your own fault...")
	case "float_method":
		return c.vars["x"].value.(float64) + c.vars["y"].value.(float64), nil
	case "int_method":
		return c.vars["exe_count"].value, nil
	case "null_method":
		return nil, nil
	case "str_method":
		return fmt.Sprintf("current state: x %g, y %g, z %g, exe_count %d",
			c.vars["x"].value.(float64), c.vars["y"].value.(float64),
			c.vars["z"].value.(float64), c.vars["exe_count"].value.(int64)), nil
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

// Pathname returns the diagnostic pathname.
func (c *TestComponent) Pathname() string { return "comp" }

// Directory returns the instance working directory.
func (c *TestComponent) Directory() string { return c.dir }

// PreDelete removes the working directory when this instance owns it.
func (c *TestComponent) PreDelete() {
	if c.own {
		os.RemoveAll(c.dir)
	}
}
