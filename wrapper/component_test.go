package wrapper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/testutil"
	"github.com/naylor-b/aserver/types"
)

const testConfig = `
components:
  - name: testing/TestComponent
    type: TestComponent
    version: "0.2"
    author: anonymous
    description: Component for testing
    comment: Initial version.
`

func newTestEntry(t *testing.T) *registry.Entry {
	t.Helper()
	reg := registry.New(registry.Deps{})
	require.NoError(t, reg.RegisterType("TestComponent", testutil.Descriptor()))

	path := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	errCount, err := reg.LoadFile(path)
	require.NoError(t, err)
	require.Zero(t, errCount)

	entry, ok := reg.Lookup("testing/TestComponent")
	require.True(t, ok)
	return entry
}

func newTestComponent(t *testing.T) *Component {
	t.Helper()
	return NewComponent("comp", testutil.New(t.TempDir()), newTestEntry(t))
}

func TestComponentGet(t *testing.T) {
	c := newTestComponent(t)

	val, err := c.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "2", val)

	val, err = c.Get("y.units")
	require.NoError(t, err)
	assert.Equal(t, "ft", val)

	val, err = c.Get("y.hasLowerBound")
	require.NoError(t, err)
	assert.Equal(t, "true", val)

	val, err = c.Get("y.lowerBound")
	require.NoError(t, err)
	assert.Equal(t, "-10", val)

	val, err = c.Get("sub_group.s")
	require.NoError(t, err)
	assert.Equal(t, "Hello World!  ( & < > )", val)

	val, err = c.Get("sub_group.f2d")
	require.NoError(t, err)
	assert.Equal(t, "bounds[2, 4] {1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5}", val)

	val, err = c.Get("sub_group.f1d.componentType")
	require.NoError(t, err)
	assert.Equal(t, "double", val)

	val, err = c.Get("sub_group.f2d.dimensions")
	require.NoError(t, err)
	assert.Equal(t, `"2", "4"`, val)
}

func TestComponentGetUnknown(t *testing.T) {
	c := newTestComponent(t)

	_, err := c.Get("bogus")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNoSuchProperty))
	assert.Equal(t, "no such property <bogus>.", errors.WireMessage(err))

	_, err = c.Get("x.bogus")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNoSuchProperty))
}

func TestComponentSet(t *testing.T) {
	c := newTestComponent(t)

	reply, err := c.Set("x", "5.5")
	require.NoError(t, err)
	assert.Equal(t, "value set for <x>", reply)
	val, err := c.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "5.5", val)

	// Symmetric quotes are stripped before the wrapper sees the value.
	_, err = c.Set("sub_group.s", `"quoted"`)
	require.NoError(t, err)
	val, err = c.Get("sub_group.s")
	require.NoError(t, err)
	assert.Equal(t, "quoted", val)

	_, err = c.Set("sub_group.b", "maybe")
	require.Error(t, err)

	_, err = c.Set("x.description", "nope")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCannotSet))
}

func TestComponentRun(t *testing.T) {
	c := newTestComponent(t)

	reply, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, "comp completed.", reply)

	val, err := c.Get("z")
	require.NoError(t, err)
	assert.Equal(t, "6", val)
	val, err = c.Get("exe_count")
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestComponentRunFailure(t *testing.T) {
	c := newTestComponent(t)
	_, err := c.Set("x", "-1")
	require.NoError(t, err)
	_, err = c.Run()
	require.Error(t, err)
	assert.Contains(t, errors.WireMessage(err), "is < 0")
}

func TestComponentInvoke(t *testing.T) {
	c := newTestComponent(t)

	reply, err := c.Invoke("float_method", false)
	require.NoError(t, err)
	assert.Equal(t, "5", reply)

	reply, err = c.Invoke("null_method", false)
	require.NoError(t, err)
	assert.Equal(t, "", reply)

	reply, err = c.Invoke("str_method", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply,
		`<?xml version="1.0" encoding="UTF-8" standalone="no" ?><response>`))
	assert.Contains(t, reply, "current state:")

	_, err = c.Invoke("cause_exception", false)
	require.Error(t, err)
	assert.Equal(t, "Exception: It's your own fault...", errors.WireMessage(err))

	_, err = c.Invoke("bogus", false)
	require.Error(t, err)
	assert.Contains(t, errors.WireMessage(err), "no such method <bogus>.")
}

func TestComponentListProperties(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.ListProperties("")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "8 properties found:", lines[0])
	assert.Contains(t, lines,
		"x (type=com.phoenix_int.aserver.types.PHXDouble) (access=sg)")
	assert.Contains(t, lines,
		"z (type=com.phoenix_int.aserver.types.PHXDouble) (access=g)")
	assert.Contains(t, lines,
		"sub_group (type=com.phoenix_int.aserver.PHXGroup) (access=sg)")
	assert.Contains(t, lines,
		"in_file (type=com.phoenix_int.aserver.types.PHXRawFile) (access=sg)")
}

func TestComponentListPropertiesOfVariable(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.ListProperties("y")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "11 properties found:", lines[0])
	assert.Contains(t, lines, "units (type=java.lang.String) (access=g)")
	assert.Contains(t, lines, "value (type=double) (access=sg)")
}

func TestComponentListPropertiesOfGroup(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.ListProperties("sub_group")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "10 properties found:", lines[0])
	assert.Contains(t, lines,
		"b (type=com.phoenix_int.aserver.types.PHXBoolean) (access=sg)")
	assert.Contains(t, lines,
		"f1d (type=double[9]) (access=sg)")
}

func TestComponentListValues(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.ListValues("sub_group")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "10 properties found:", lines[0])
	found := false
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "i ") {
			assert.Contains(t, line, "vLen=1  val=7")
			found = true
		}
	}
	assert.True(t, found, "expected a line for sub_group.i")

	// Top-level listing includes sub-properties.
	out, err = c.ListValues("")
	require.NoError(t, err)
	assert.Contains(t, out, "SubProps found:")
	assert.Contains(t, out, "val=Group: sub_group")
}

func TestComponentListMethods(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.ListMethods(false)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "5 methods found:", lines[0])
	assert.Contains(t, lines, "float_method()")

	out, err = c.ListMethods(true)
	require.NoError(t, err)
	assert.Contains(t, out,
		`float_method() fullName="testing/TestComponent/float_method"`)
}

func TestComponentGetHierarchy(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.GetHierarchy(false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<?xml version='1.0' encoding='utf-8'?>\n<Group>"))
	assert.True(t, strings.HasSuffix(out, "</Group>"))
	assert.Contains(t, out, `<Group name="sub_group">`)
	assert.Contains(t, out, `<Variable name="x" type="double"`)
}

func TestComponentMonitors(t *testing.T) {
	dir := t.TempDir()
	c := NewComponent("comp", testutil.New(dir), newTestEntry(t))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.log"), []byte("output\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte{0, 1, 2}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	out, err := c.ListMonitors()
	require.NoError(t, err)
	assert.Equal(t, "1 monitors:\nrun.log", out)

	got := make(chan string, 16)
	err = c.StartMonitor("run.log", "7", func(data string) { got <- data })
	require.NoError(t, err)
	assert.True(t, c.HasMonitor("7"))
	assert.Equal(t, "output\n", <-got)

	require.NoError(t, c.StopMonitor("7"))
	assert.False(t, c.HasMonitor("7"))
	err = c.StopMonitor("7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No registered monitor")
}

func TestComponentPs(t *testing.T) {
	c := newTestComponent(t)

	out, err := c.Ps()
	require.NoError(t, err)
	assert.Contains(t, out, "<Process pid='0'>")
	assert.Contains(t, out, "<Command>")
}

func TestComponentFileTransfer(t *testing.T) {
	dir := t.TempDir()
	c := NewComponent("comp", testutil.New(dir), newTestEntry(t))

	_, err := c.Set("in_file", `Hello!\nBye.\n`)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "inFile.data"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!\nBye.\n", string(data))

	val, err := c.Get("in_file")
	require.NoError(t, err)
	assert.Equal(t, `Hello!\nBye.\n`, val)

	// Output files reject writes.
	_, err = c.Set("out_file", "nope")
	require.Error(t, err)
	assert.Equal(t, "cannot set output <out_file>.", errors.WireMessage(err))
}

// countingSystem records the external calls made per variable, so tests
// can assert how often the component layer reaches into the system.
type countingSystem struct {
	vals      map[string]any
	getCalls  map[string]int
	metaCalls map[string]int
}

func newCountingSystem(vals map[string]any) *countingSystem {
	return &countingSystem{
		vals:      vals,
		getCalls:  make(map[string]int),
		metaCalls: make(map[string]int),
	}
}

func (s *countingSystem) Get(name string) (any, error) {
	s.getCalls[name]++
	val, ok := s.vals[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	return val, nil
}

func (s *countingSystem) Set(name string, value any) error {
	s.vals[name] = value
	return nil
}

func (s *countingSystem) Invoke(method string) (any, error) { return nil, nil }
func (s *countingSystem) Run() error                        { return nil }

func (s *countingSystem) Metadata(name string) (types.Metadata, error) {
	s.metaCalls[name]++
	return types.Metadata{}, nil
}

func (s *countingSystem) Pathname() string  { return "counted" }
func (s *countingSystem) Directory() string { return "" }
func (s *countingSystem) PreDelete()        {}

// countedEntry builds an Entry straight from internal variable names,
// bypassing file configuration.
func countedEntry(inputs, outputs []string) *registry.Entry {
	entry := &registry.Entry{
		Name:       "testing/Counted",
		Inputs:     make(map[string]string),
		Outputs:    make(map[string]string),
		Properties: make(map[string]string),
	}
	for _, name := range inputs {
		ext := strings.ReplaceAll(name, ":", ".")
		entry.Inputs[ext] = name
		entry.Properties[ext] = name
	}
	for _, name := range outputs {
		ext := strings.ReplaceAll(name, ":", ".")
		entry.Outputs[ext] = name
		entry.Properties[ext] = name
	}
	return entry
}

func TestComponentListPropertiesCachesWrappers(t *testing.T) {
	sys := newCountingSystem(map[string]any{
		"a": 1.5,
		"b": int64(4),
		"c": "done",
	})
	c := NewComponent("comp", sys, countedEntry([]string{"a", "b"}, []string{"c"}))

	first, err := c.ListProperties("")
	require.NoError(t, err)
	getsAfterFirst := sys.getCalls["a"] + sys.getCalls["b"] + sys.getCalls["c"]

	// A second listing is identical and hits the wrapper cache: no new
	// metadata or value lookups on the system.
	second, err := c.ListProperties("")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, getsAfterFirst,
		sys.getCalls["a"]+sys.getCalls["b"]+sys.getCalls["c"])
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, sys.metaCalls[name], name)
	}

	// Reads reuse the cached wrappers too.
	val, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1.5", val)
	assert.Equal(t, 1, sys.metaCalls["a"])
}

func TestComponentUnboundFile(t *testing.T) {
	sys := newCountingSystem(map[string]any{"f": (*types.FileRef)(nil)})
	c := NewComponent("comp", sys, countedEntry([]string{"f"}, nil))

	// An unbound file reads as empty contents.
	val, err := c.Get("f")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	val, err = c.Get("f.isBinary")
	require.NoError(t, err)
	assert.Equal(t, "false", val)

	// Writing it reports an error instead of crashing the worker.
	_, err = c.Set("f", "data")
	require.Error(t, err)
	assert.Equal(t, "Exception: no file bound to <f>", errors.WireMessage(err))
}
