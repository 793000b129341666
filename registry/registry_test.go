package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylor-b/aserver/types"
)

type stubSystem struct{}

func (stubSystem) Get(string) (any, error)                { return nil, nil }
func (stubSystem) Set(string, any) error                  { return nil }
func (stubSystem) Invoke(string) (any, error)             { return nil, nil }
func (stubSystem) Run() error                             { return nil }
func (stubSystem) Metadata(string) (types.Metadata, error) { return types.Metadata{}, nil }
func (stubSystem) Pathname() string                       { return "stub" }
func (stubSystem) Directory() string                      { return "." }
func (stubSystem) PreDelete()                             {}

func stubDescriptor() Descriptor {
	return Descriptor{
		Inputs:  []string{"x", "sub:a", "sub:b"},
		Outputs: []string{"y"},
		Methods: []string{"reset"},
		Factory: func() (types.System, error) { return stubSystem{}, nil },
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegisterType(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.RegisterType("Stub", stubDescriptor()))

	err := r.RegisterType("Stub", stubDescriptor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = r.RegisterType("NoFactory", Descriptor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no factory")
}

func TestLoadFile(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.RegisterType("Stub", stubDescriptor()))

	path := writeConfig(t, `
components:
  - name: demo/Stub
    type: Stub
    version: "1.2"
    author: someone
    description: A stub component
    keywords: [demo, stub]
`)
	errCount, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Zero(t, errCount)
	assert.Equal(t, 1, r.Len())

	entry, ok := r.Lookup("demo/Stub")
	require.True(t, ok)
	assert.Equal(t, "1.2", entry.Version)
	assert.Equal(t, []string{"demo", "stub"}, entry.Keywords)
	assert.False(t, entry.Timestamp.IsZero())

	// External paths use '.' where internal names use ':'.
	assert.Equal(t, "sub:a", entry.Inputs["sub.a"])
	assert.Equal(t, "x", entry.Inputs["x"])
	assert.Equal(t, "y", entry.Outputs["y"])
	assert.Equal(t, "sub:b", entry.Properties["sub.b"])
	assert.Equal(t, "reset", entry.Methods["reset"])
}

func TestLoadFileUnknownType(t *testing.T) {
	r := New(Deps{})
	path := writeConfig(t, `
components:
  - name: demo/Mystery
    type: Mystery
`)
	errCount, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, errCount)
	assert.Zero(t, r.Len())
}

func TestLoadFileBadDirectory(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.RegisterType("Stub", stubDescriptor()))

	for _, dir := range []string{"/absolute/path", "../escape"} {
		path := writeConfig(t, `
components:
  - name: demo/Stub
    type: Stub
    directory: `+dir+`
`)
		errCount, err := r.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 1, errCount, "directory %q", dir)
	}
}

func TestLoadFileDuplicate(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.RegisterType("Stub", stubDescriptor()))

	path := writeConfig(t, `
components:
  - name: demo/Stub
    type: Stub
  - name: demo/Stub
    type: Stub
`)
	errCount, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, errCount)
	assert.Equal(t, 1, r.Len())
}

func TestLoadFileMissing(t *testing.T) {
	r := New(Deps{})
	_, err := r.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.RegisterType("Stub", stubDescriptor()))
	path := writeConfig(t, `
components:
  - name: b/Second
    type: Stub
  - name: a/First
    type: Stub
`)
	_, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/First", "b/Second"}, r.Names())
}
