package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/protocol"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/testutil"
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

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Deps{})
	require.NoError(t, reg.RegisterType("TestComponent", testutil.Descriptor()))
	path := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	errCount, err := reg.LoadFile(path)
	require.NoError(t, err)
	require.Zero(t, errCount)
	return reg
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	srv, err := New(cfg, Deps{Registry: newTestRegistry(t)})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(5 * time.Second) })
	return srv
}

// client is a cooked-mode protocol client for tests.
type client struct {
	t      *testing.T
	conn   net.Conn
	stream *protocol.Stream
}

func connect(t *testing.T, srv *Server) *client {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &client{t: t, conn: conn, stream: protocol.NewStream(conn)}

	reply, err := c.stream.RecvReply()
	require.NoError(t, err)
	require.Equal(t,
		"Welcome to the OpenMDAO Analysis Server.\nversion: 0.1",
		string(reply.Data))
	return c
}

// cmd sends one cooked request and returns the reply text.
func (c *client) cmd(req string) string {
	c.t.Helper()
	require.NoError(c.t, c.stream.SendRequest(protocol.Request{Data: []byte(req)}))
	reply, err := c.stream.RecvReply()
	require.NoError(c.t, err)
	return string(reply.Data)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "Object comp started.", c.cmd("start testing/TestComponent comp"))
	assert.Equal(t, `ERROR: Name already in use: "comp"`,
		c.cmd("start testing/TestComponent comp"))

	assert.Equal(t, "2", c.cmd("get comp.x"))
	assert.Equal(t, "value set for <x>", c.cmd("set comp.x = 6"))
	assert.Equal(t, "6", c.cmd("get comp.x"))

	assert.Equal(t, "comp completed.", c.cmd("execute comp"))
	assert.Equal(t, "18", c.cmd("get comp.z"))

	assert.Equal(t, "1 objects started:\ncomp", c.cmd("list"))
	assert.Equal(t, "comp: ready", c.cmd("getStatus"))

	assert.Equal(t, "comp completed.\nObject comp ended.", c.cmd("end comp"))
	assert.Equal(t, "ERROR: no such object: <comp>", c.cmd("get comp.x"))
	assert.Equal(t, "0 objects started:", c.cmd("list"))
}

func TestUnknownCommand(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "ERROR: command <frobnicate the widget> not recognized",
		c.cmd("frobnicate the widget"))
}

func TestInvalidSyntax(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "ERROR: invalid syntax. Proper syntax:\nget <object.property>",
		c.cmd("get"))
	assert.Equal(t,
		"ERROR: invalid syntax. Proper syntax:\nstart <component> <instanceName> [connector] [queue]",
		c.cmd("start"))
	assert.Equal(t, "ERROR: invalid syntax. Proper syntax:\nheartbeat,hb [start|stop]",
		c.cmd("hb sideways"))
}

func TestUnknownComponent(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t,
		"ERROR: component </no/such/comp> does not match a known component",
		c.cmd("start no/such/comp inst"))
	assert.Equal(t,
		"ERROR: component </bare> does not match a known component",
		c.cmd("start bare inst"))
}

func TestServerInfoCommands(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	version := c.cmd("getVersion")
	assert.Contains(t, version, "OpenMDAO Analysis Server 0.1")
	assert.Contains(t, version, "version: 7.0, build: 42968")

	assert.Equal(t, "Use at your own risk!", c.cmd("getLicense"))
	assert.Equal(t, "false", c.cmd("getDirectTransfer"))
	assert.Equal(t, "", c.cmd("getBranchesAndTags"))
	assert.Equal(t, "0 global objects started:", c.cmd("lg"))

	sysinfo := c.cmd("getSysInfo")
	assert.Contains(t, sysinfo, "version: 7.0")
	assert.Contains(t, sysinfo, "build: 42968")
	assert.Contains(t, sysinfo, "num clients: 1")
	assert.Contains(t, sysinfo, "num components: 1")
	assert.Contains(t, sysinfo, "go version: go")

	help := c.cmd("help")
	assert.True(t, strings.HasPrefix(help, "Available Commands:"))
	assert.Contains(t, help, "setMode raw")
}

func TestComponentCatalog(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "1 components found:\ntesting/TestComponent", c.cmd("lc"))
	assert.Equal(t, "1 categories found:\ntesting", c.cmd("la"))
	assert.Equal(t, "0 categories found:", c.cmd("la testing"))

	describe := c.cmd("describe testing/TestComponent")
	assert.Contains(t, describe, "Version: 0.2")
	assert.Contains(t, describe, "Author: anonymous")
	assert.Contains(t, describe, "Checksum: 0")

	xml := c.cmd("d testing/TestComponent -xml")
	assert.True(t, strings.HasPrefix(xml, "<Description>"))
	assert.Contains(t, xml, "<Version>0.2</Version>")

	versions := c.cmd("versions testing/TestComponent")
	assert.True(t, strings.HasPrefix(versions, "<Branch name='HEAD'>"))
	assert.Contains(t, versions, "<Version name='0.2'>")
	assert.Contains(t, versions, "<description>Initial version.</description>")
}

func TestNotImplementedCommands(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "ERROR: not implemented: move", c.cmd("mv a b"))
	assert.Equal(t, "ERROR: not implemented: getQueues", c.cmd("getQueues x"))
	assert.Equal(t, "ERROR: not implemented: setHierarchy", c.cmd("setHierarchy x y"))
	assert.Equal(t, "", c.cmd("setDictionary <dictionary/>"))
}

func TestHeartbeat(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "Heartbeating started", c.cmd("hb start"))
	assert.Equal(t, "Heartbeating started", c.cmd("hb start"))
	assert.Equal(t, "Heartbeating stopped", c.cmd("hb stop"))
	assert.Equal(t, "Heartbeating stopped", c.cmd("hb stop"))
}

func TestRawMode(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "Object comp started.", c.cmd("start testing/TestComponent comp"))

	// A successful transition sends no reply.
	require.NoError(t, c.stream.SendRequest(protocol.Request{Data: []byte("setMode raw")}))
	require.NoError(t, c.stream.SetRaw(true))

	require.NoError(t, c.stream.SendRequest(protocol.Request{
		ID: 1, Data: []byte("get comp.x"),
	}))
	reply, err := c.stream.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.ID)
	assert.Equal(t, protocol.FormatString, reply.Format)
	assert.Equal(t, "2", string(reply.Data))

	require.NoError(t, c.stream.SendRequest(protocol.Request{
		ID: 2, Data: []byte("get comp.bogus"),
	}))
	reply, err = c.stream.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.ID)
	assert.Equal(t, protocol.FormatError, reply.Format)
	assert.Equal(t, "ERROR: no such property <bogus>.", string(reply.Data))

	// Backgrounded raw requests still reply with their own id.
	require.NoError(t, c.stream.SendRequest(protocol.Request{
		ID: 3, Background: true, Data: []byte("execute comp"),
	}))
	reply, err = c.stream.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, int64(3), reply.ID)
	assert.Equal(t, "comp completed.", string(reply.Data))
}

func TestRawModeOneWay(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	require.NoError(t, c.stream.SendRequest(protocol.Request{Data: []byte("setMode raw")}))
	require.NoError(t, c.stream.SetRaw(true))

	require.NoError(t, c.stream.SendRequest(protocol.Request{
		ID: 1, Data: []byte("setMode raw"),
	}))
	reply, err := c.stream.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, protocol.FormatError, reply.Format)
	assert.Equal(t, "ERROR: Can only transition from 'cooked' to 'raw'",
		string(reply.Data))
}

func TestQuitClosesConnection(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	require.NoError(t, c.stream.SendRequest(protocol.Request{Data: []byte("quit")}))
	_, err := c.stream.RecvReply()
	assert.ErrorIs(t, err, errors.ErrConnClosed)
}

func TestDisconnectCleansUpInstances(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "Object comp started.", c.cmd("start testing/TestComponent comp"))
	c.conn.Close()

	require.Eventually(t, func() bool {
		return srv.NumClients() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHostFiltering(t *testing.T) {
	srv := newTestServer(t, Config{AllowedHosts: []string{"10.0.0."}})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	stream := protocol.NewStream(conn)
	_, err = stream.RecvReply()
	assert.ErrorIs(t, err, errors.ErrConnClosed)
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"127.0.0.1", "192.168."}
	assert.True(t, hostAllowed("127.0.0.1", allowed))
	assert.True(t, hostAllowed("192.168.0.7", allowed))
	assert.False(t, hostAllowed("10.1.2.3", allowed))
	assert.False(t, hostAllowed("127.0.0.2", allowed))
}

func TestReadAllowedHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.allow")
	require.NoError(t, os.WriteFile(path, []byte(`
# local clients
127.0.0.1

192.168.1.
`), 0o644))
	hosts, err := ReadAllowedHosts(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "192.168.1."}, hosts)

	_, err = ReadAllowedHosts(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestUpFile(t *testing.T) {
	upFile := filepath.Join(t.TempDir(), "up")
	srv := newTestServer(t, Config{UpFile: upFile})

	data, err := os.ReadFile(upFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "127.0.0.1", lines[0])

	require.NoError(t, srv.Stop(5*time.Second))
	_, err = os.Stat(upFile)
	assert.True(t, os.IsNotExist(err))
}

func TestMonitorStartStop(t *testing.T) {
	srv := newTestServer(t, Config{})
	c := connect(t, srv)

	assert.Equal(t, "Object comp started.", c.cmd("start testing/TestComponent comp"))

	// Find the instance directory through the component's output.
	assert.Equal(t, "comp completed.", c.cmd("execute comp"))
	dir := c.cmd("get comp.exe_dir")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.log"), []byte("line one\n"), 0o644))

	assert.Equal(t, "1 monitors:\nrun.log", c.cmd("lo comp"))

	// The first monitor reply carries the current file contents.
	assert.Equal(t, "line one\n", c.cmd("monitor start comp.run.log"))
	assert.Equal(t, "", c.cmd("monitor stop 0"))
	assert.Equal(t, `ERROR: No monitor registered for "99"`, c.cmd("monitor stop 99"))
}
