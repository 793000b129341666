package protocol

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/naylor-b/aserver/errors"
)

// Format identifies the payload format of a raw-mode reply.
type Format string

// Raw-mode reply formats. The set is fixed by the legacy protocol.
const (
	FormatString Format = "string"
	FormatError  Format = "error"
	FormatIcon   Format = "PHXIcon"
)

// Chunked sends allow overlap with concurrent reads on the peer.
const sendChunk = 1 << 17 // 128KB

const recvSize = 4096

// Request is one decoded client request. In cooked mode only Data is
// meaningful; in raw mode ID and Background carry the request header.
type Request struct {
	Data       []byte
	ID         int64
	Background bool
}

// Reply is one decoded server reply, used by the client side of the
// protocol (tests and tooling). In cooked mode only Data is meaningful.
type Reply struct {
	Data   []byte
	ID     int64
	Format Format
}

// Stream frames requests and replies over a duplex connection in the two
// analysis-server sub-protocols. The default is cooked (newline-terminated
// text); SetRaw switches permanently to the length-prefixed raw protocol.
//
// Stream is not safe for concurrent use; the owning session serializes
// sends with its reply lock.
type Stream struct {
	conn net.Conn
	buf  []byte
	raw  bool
}

// NewStream wraps a connection. The stream starts in cooked mode.
func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// Raw reports whether the stream is in raw mode.
func (s *Stream) Raw() bool {
	return s.raw
}

// SetRaw transitions the stream mode. The only legal transition is
// cooked to raw; everything else fails with the fixed transition error.
func (s *Stream) SetRaw(value bool) error {
	if !s.raw && value {
		s.raw = true
		return nil
	}
	return errors.ErrBadTransition
}

// RecvRequest blocks until one full request is framed in the receive
// buffer. End of connection is reported as errors.ErrConnClosed.
func (s *Stream) RecvRequest() (Request, error) {
	if s.raw {
		return s.recvRawRequest()
	}
	line, err := s.readLine()
	if err != nil {
		return Request{}, err
	}
	return Request{Data: bytes.TrimSpace(line)}, nil
}

func (s *Stream) recvRawRequest() (Request, error) {
	var req Request

	line, err := s.readLine()
	if err != nil {
		return req, err
	}
	idStr, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "setID ")
	if !ok {
		return req, fmt.Errorf("malformed raw request header %q", line)
	}
	req.ID, err = strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	if err != nil {
		return req, fmt.Errorf("malformed request id %q", idStr)
	}

	line, err = s.readLine()
	if err != nil {
		return req, err
	}
	if strings.TrimSpace(string(line)) == "bg" {
		req.Background = true
		line, err = s.readLine()
		if err != nil {
			return req, err
		}
	}
	lenStr, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "cmdLen=")
	if !ok {
		return req, fmt.Errorf("malformed raw request length %q", line)
	}
	length, err := strconv.Atoi(lenStr)
	if err != nil || length < 0 {
		return req, fmt.Errorf("malformed raw request length %q", line)
	}

	req.Data, err = s.readN(length)
	return req, err
}

// SendReply frames and sends a reply. In cooked mode the id and format are
// ignored: internal newlines become CRLF and the message is terminated by
// the prompt. In raw mode the reply carries the request id and format tag
// with an explicit byte length, so payloads may be arbitrary binary.
func (s *Stream) SendReply(reply []byte, id int64, format Format) error {
	if s.raw {
		header := fmt.Sprintf("%d\r\nformat: %s\r\n%d\r\n", id, format, len(reply))
		return s.sendAll(append([]byte(header), reply...))
	}
	if len(reply) == 0 {
		return s.sendAll([]byte(">"))
	}
	msg := bytes.ReplaceAll(reply, []byte("\n"), []byte("\r\n"))
	if bytes.HasSuffix(msg, []byte("\n>")) {
		return s.sendAll(msg)
	}
	return s.sendAll(append(msg, '\r', '\n', '>'))
}

// SendRequest frames and sends a request; this is the client side of
// RecvRequest and exists for tests and client tooling.
func (s *Stream) SendRequest(req Request) error {
	if s.raw {
		var hdr bytes.Buffer
		fmt.Fprintf(&hdr, "setID %d\n", req.ID)
		if req.Background {
			hdr.WriteString("bg\n")
		}
		fmt.Fprintf(&hdr, "cmdLen=%d\n", len(req.Data))
		hdr.Write(req.Data)
		return s.sendAll(hdr.Bytes())
	}
	return s.sendAll(append(append([]byte{}, req.Data...), '\r', '\n'))
}

// RecvReply blocks until one full reply is framed; the client side of
// SendReply. Cooked replies are returned with CRLF collapsed back to LF
// and the trailing prompt stripped.
func (s *Stream) RecvReply() (Reply, error) {
	if s.raw {
		return s.recvRawReply()
	}
	data, err := s.readUntilPrompt()
	if err != nil {
		return Reply{}, err
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return Reply{Data: data}, nil
}

func (s *Stream) recvRawReply() (Reply, error) {
	var reply Reply

	line, err := s.readLine()
	if err != nil {
		return reply, err
	}
	reply.ID, err = strconv.ParseInt(strings.TrimSpace(string(line)), 10, 64)
	if err != nil {
		return reply, fmt.Errorf("malformed reply id %q", line)
	}

	line, err = s.readLine()
	if err != nil {
		return reply, err
	}
	fmtStr, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "format: ")
	if !ok {
		return reply, fmt.Errorf("malformed reply format %q", line)
	}
	reply.Format = Format(fmtStr)

	line, err = s.readLine()
	if err != nil {
		return reply, err
	}
	length, err := strconv.Atoi(strings.TrimSpace(string(line)))
	if err != nil || length < 0 {
		return reply, fmt.Errorf("malformed reply length %q", line)
	}

	reply.Data, err = s.readN(length)
	return reply, err
}

// readLine returns the buffer through the next '\n' inclusive.
func (s *Stream) readLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := s.buf[:i+1]
			s.buf = append([]byte{}, s.buf[i+1:]...)
			return line, nil
		}
		if err := s.receive(); err != nil {
			return nil, err
		}
	}
}

// readUntilPrompt returns accumulated bytes up to (excluding) a reply
// prompt: "\r\n>" anywhere, or a reply that is exactly ">".
func (s *Stream) readUntilPrompt() ([]byte, error) {
	for {
		if i := bytes.Index(s.buf, []byte("\r\n>")); i >= 0 {
			data := s.buf[:i]
			s.buf = append([]byte{}, s.buf[i+3:]...)
			return data, nil
		}
		// An empty reply arrives as a bare ">" with no terminator, so it
		// is only recognizable when the buffer holds exactly that byte.
		// If the next reply is already buffered behind it, the leading
		// '>' is indistinguishable from reply text starting with '>';
		// legacy clients match ^>$ per read and share this ambiguity.
		// Client side only, so callers must not pipeline past an empty
		// reply.
		if len(s.buf) == 1 && s.buf[0] == '>' {
			s.buf = nil
			return nil, nil
		}
		if err := s.receive(); err != nil {
			return nil, err
		}
	}
}

// readN returns exactly n raw bytes, which may include NUL and arbitrary
// binary data.
func (s *Stream) readN(n int) ([]byte, error) {
	for len(s.buf) < n {
		if err := s.receive(); err != nil {
			return nil, err
		}
	}
	data := s.buf[:n]
	s.buf = append([]byte{}, s.buf[n:]...)
	return data, nil
}

func (s *Stream) receive() error {
	chunk := make([]byte, recvSize)
	n, err := s.conn.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
		return nil
	}
	if err == nil {
		return errors.ErrConnClosed
	}
	return connErr(err)
}

func (s *Stream) sendAll(data []byte) error {
	for start := 0; start < len(data); start += sendChunk {
		end := start + sendChunk
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.conn.Write(data[start:end]); err != nil {
			return connErr(err)
		}
	}
	return nil
}

// connErr maps transport-level termination (EOF, reset, closed socket)
// to the end-of-connection sentinel; other I/O errors pass through.
func connErr(err error) error {
	if stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, io.ErrClosedPipe) ||
		stderrors.Is(err, net.ErrClosed) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE) {
		return errors.ErrConnClosed
	}
	return err
}
