package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylor-b/aserver/errors"
)

// pipe returns a connected server/client stream pair.
func pipe(t *testing.T) (*Stream, *Stream) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})
	return NewStream(serverConn), NewStream(clientConn)
}

func TestCookedRequest(t *testing.T) {
	server, client := pipe(t)

	go func() {
		_ = client.SendRequest(Request{Data: []byte("get comp.x")})
	}()

	req, err := server.RecvRequest()
	require.NoError(t, err)
	assert.Equal(t, "get comp.x", string(req.Data))
	assert.Zero(t, req.ID)
	assert.False(t, req.Background)
}

func TestCookedReplyFraming(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"single line", "42"},
		{"multi line", "line one\nline two"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := pipe(t)
			go func() {
				_ = server.SendReply([]byte(tt.reply), 0, FormatString)
			}()
			reply, err := client.RecvReply()
			require.NoError(t, err)
			assert.Equal(t, tt.reply, string(reply.Data))
		})
	}
}

func TestCookedEmptyReplyIsBarePrompt(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewStream(serverConn)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.SendReply(nil, 0, FormatString)
	}()

	buf := make([]byte, 16)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	<-done
	assert.Equal(t, ">", string(buf[:n]))
}

func TestCookedReplyWireBytes(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewStream(serverConn)
	go func() {
		_ = server.SendReply([]byte("a\nb"), 0, FormatString)
	}()

	buf := make([]byte, 32)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb\r\n>", string(buf[:n]))
}

func TestRawRoundTrip(t *testing.T) {
	server, client := pipe(t)
	require.NoError(t, server.SetRaw(true))
	require.NoError(t, client.SetRaw(true))

	payload := []byte("set comp.file = \x00binary\x01data")
	go func() {
		_ = client.SendRequest(Request{Data: payload, ID: 7, Background: true})
	}()

	req, err := server.RecvRequest()
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.ID)
	assert.True(t, req.Background)
	assert.Equal(t, payload, req.Data)

	go func() {
		_ = server.SendReply([]byte("done"), 7, FormatString)
	}()
	reply, err := client.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, int64(7), reply.ID)
	assert.Equal(t, FormatString, reply.Format)
	assert.Equal(t, "done", string(reply.Data))
}

func TestRawErrorFormat(t *testing.T) {
	server, client := pipe(t)
	require.NoError(t, server.SetRaw(true))
	require.NoError(t, client.SetRaw(true))

	go func() {
		_ = server.SendReply([]byte("ERROR: no such object: <comp>"), 3, FormatError)
	}()
	reply, err := client.RecvReply()
	require.NoError(t, err)
	assert.Equal(t, FormatError, reply.Format)
	assert.Equal(t, int64(3), reply.ID)
}

func TestModeTransition(t *testing.T) {
	server, _ := pipe(t)

	assert.False(t, server.Raw())
	require.NoError(t, server.SetRaw(true))
	assert.True(t, server.Raw())

	// raw -> raw and raw -> cooked both fail with the fixed message.
	err := server.SetRaw(true)
	require.Error(t, err)
	assert.Equal(t, "Can only transition from 'cooked' to 'raw'", err.Error())

	err = server.SetRaw(false)
	require.Error(t, err)
	assert.Equal(t, "Can only transition from 'cooked' to 'raw'", err.Error())
	assert.True(t, server.Raw())
}

func TestSetRawFalseFromCooked(t *testing.T) {
	server, _ := pipe(t)
	err := server.SetRaw(false)
	require.Error(t, err)
	assert.Equal(t, "Can only transition from 'cooked' to 'raw'", err.Error())
}

func TestRecvOnClosedConn(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := NewStream(serverConn)
	require.NoError(t, clientConn.Close())
	defer serverConn.Close()

	_, err := server.RecvRequest()
	assert.ErrorIs(t, err, errors.ErrConnClosed)
}

func TestMalformedRawHeader(t *testing.T) {
	server, client := pipe(t)
	require.NoError(t, server.SetRaw(true))

	go func() {
		_ = client.SendRequest(Request{Data: []byte("not a raw header")})
	}()

	_, err := server.RecvRequest()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrConnClosed)
}

func TestPartialDelivery(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	server := NewStream(serverConn)
	require.NoError(t, server.SetRaw(true))

	go func() {
		// Dribble the frame across writes to exercise buffering.
		for _, part := range []string{"setID 1", "1\ncmd", "Len=5\nhe", "llo!"} {
			_, _ = clientConn.Write([]byte(part))
		}
	}()

	req, err := server.RecvRequest()
	require.NoError(t, err)
	assert.Equal(t, int64(11), req.ID)
	assert.Equal(t, "hello", string(req.Data[:5]))
}
