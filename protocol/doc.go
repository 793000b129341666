// Package protocol implements wire framing for the analysis-server
// request/reply protocol.
//
// # Modes
//
// A connection starts in cooked mode: requests are newline-terminated
// text, replies are CRLF text terminated by a '>' prompt (an empty reply
// is exactly ">"). The client may switch the connection to raw mode with
// the setMode command; the transition is one-way and permanent for the
// life of the connection.
//
// Raw mode frames every request as:
//
//	setID <id>\n
//	[bg\n]
//	cmdLen=<n>\n
//	<n raw bytes>
//
// and every reply as:
//
//	<id>\r\nformat: <string|error|PHXIcon>\r\n<len>\r\n<len bytes>
//
// Raw payloads are framed by explicit byte length and may contain NUL and
// arbitrary binary data; nothing in this package assumes UTF-8 payloads.
//
// # Blocking and errors
//
// Receive calls block the calling goroutine until a full frame has been
// accumulated. A zero-byte read or a connection reset is reported as
// errors.ErrConnClosed, which the session layer treats as clean
// end-of-connection rather than an I/O failure.
package protocol
