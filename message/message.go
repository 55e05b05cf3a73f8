// Package message defines the collaborator contract the engine drives but
// does not implement: HTTP/1.1 message parsing, serialization, and the
// higher-level request/response bookkeeping (status, redirects,
// credentials) belong to whatever Request/Response implementation the
// caller supplies. The reference implementation under message/wire is used
// by the engine's own tests and by the root package's Client.
package message

import "net/url"

// RecvKind tags what shape of data a Response wants next from recv_step.
type RecvKind int

const (
	// RecvDone means the response is fully received; connection_step may
	// move on to the next pipelined response, if any.
	RecvDone RecvKind = iota
	// RecvHeaders asks for the next block of header lines, up to and
	// including the blank line that terminates them.
	RecvHeaders
	// RecvLine asks for a single CRLF-terminated line (used for chunked
	// transfer-encoding size lines, by a concrete Message implementation).
	RecvLine
	// RecvN asks for raw bytes; see RecvMode.N for how many.
	RecvN
)

// RecvMode is the value recv_mode() returns. When Kind is RecvN, N encodes
// three cases: N == 0 means the response is producer-blocked (recv_step
// must call RecvBlocked once and loop), N > 0 asks for exactly N bytes, and
// N < 0 means "drain whatever is buffered, however much that is" (a
// close-delimited body).
type RecvMode struct {
	Kind RecvKind
	N    int
}

// Response is the read side of the Message contract: status line and
// headers arrive via RecvLines/HandleHeaders, the body arrives via
// RecvBytes/RecvBlocked, and HandleMessage/HandleDisconnect close out the
// exchange.
type Response interface {
	// StartReceiving is invoked once, when this Response becomes (or
	// starts out as) the connection's current_response.
	StartReceiving()

	// RecvMode reports what recv_step should feed this Response next.
	RecvMode() RecvMode

	// RecvLines delivers one or more CRLF-terminated lines requested by a
	// RecvHeaders or RecvLine mode. Each line retains its trailing CRLF.
	RecvLines(lines [][]byte)
	// RecvBytes delivers exactly RecvMode.N bytes requested by a positive
	// RecvN mode, or whatever was drained for a negative one.
	RecvBytes(data []byte)
	// RecvBlocked is called once per connection_step pass while RecvMode
	// reports N == 0, so the Response can re-check whatever condition it
	// is waiting on without being handed any bytes.
	RecvBlocked()

	// HandleHeaders fires once the status line and header block have both
	// been delivered.
	HandleHeaders()
	// HandleMessage fires once RecvMode reports RecvDone.
	HandleMessage()
	// HandleDisconnect fires if the connection closes, with or without an
	// error, before HandleMessage would otherwise have fired.
	HandleDisconnect(err error)

	// Status is 0 until the status line has been parsed.
	Status() int
	// Protocol is the server's reported HTTP version (e.g. "HTTP/1.1").
	Protocol() string
	SetProtocol(string)
	// KeepAlive reports whether the connection may be reused after this
	// response completes.
	KeepAlive() bool

	// HeaderValues returns every value received for name (header names
	// are case-insensitive; repeated occurrences are returned in receipt
	// order). Used by request-level policy to read Location and
	// WWW-Authenticate without committing this interface to a concrete
	// header type.
	HeaderValues(name string) []string
}

// BodyChunk is the result of one SendBody call. Exactly one of Blocked,
// Done, or a non-empty Data is meaningful per call: a "bytes | empty | none"
// contract given a typed shape instead of an untyped sentinel value.
type BodyChunk struct {
	Data    []byte
	Blocked bool // producer not ready; come back later
	Done    bool // body fully sent
}

// Request is the write side of the Message contract plus the request-level
// bookkeeping (status, redirect policy, in-flight credential attempt) that
// the retry policy reads and mutates after each exchange.
type Request interface {
	Method() string
	URL() *url.URL
	SetURL(*url.URL)

	SetHeader(name, value string)
	HasHeader(name string) bool
	// SetAuthorization installs a request's Authorization header value,
	// e.g. "Basic <base64>" or "Digest ...".
	SetAuthorization(value string)
	// ExpectContinue reports whether this request sent (or should send)
	// "Expect: 100-continue".
	ExpectContinue() bool

	SendStart() []byte
	SendHeader() []byte
	// SendBody pulls the next chunk of the request body, cooperatively:
	// see BodyChunk.
	SendBody() BodyChunk

	// SetConnection records which Connection id currently owns this
	// request, for diagnostics and for GetBody-style resend support.
	SetConnection(id uint64)
	// SetClient records an opaque back-reference to the owning request
	// manager. The engine does not itself call through this value; it
	// exists for callers that need it (e.g. to cancel a request from
	// elsewhere).
	SetClient(owner any)
	// Disconnect is called when the connection abandons this request
	// before it completed normally (PipelineAbort or close).
	Disconnect(err error)
	// Finished is the request-level completion hook: called exactly once,
	// after either a final response or a terminal error, before policy
	// decides whether to redirect, retry, or hand the result to the
	// caller.
	Finished()

	// Response returns the Response this request's reply should be
	// delivered to.
	Response() Response

	// Status mirrors Response.Status() once set; 0 before any attempt has
	// completed. The connection calls SetStatus when a response completes.
	Status() int
	SetStatus(int)
	// AutoRedirect reports whether policy may follow 3xx responses for
	// this request.
	AutoRedirect() bool

	// TryCredentials is non-nil while an authentication retry is in
	// flight for this request.
	TryCredentials() any
	SetTryCredentials(any)
}

// idempotentMethods are safe to pipeline ahead of a pending response.
var idempotentMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"TRACE":   true,
}

// IsIdempotent reports whether method may be pipelined ahead of an
// outstanding response.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}
