// Package wire is a reference HTTP/1.1 Message implementation: the
// Request and Response types here are the simplest thing that
// satisfies message.Request and message.Response, built to exercise the
// engine's own tests rather than to be a general-purpose HTTP library.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"golang.org/x/net/idna"

	"github.com/sreylindoung/pyhttpclient/message"
)

// ErrBodyNotResendable is returned by PrepareResend when a request had a
// non-seekable body that has already started sending: the bytes behind
// it cannot be produced a second time.
var ErrBodyNotResendable = errors.New("wire: request body already sent and is not seekable")

// Request is an outgoing HTTP/1.1 request, serialized incrementally the
// way connection_step drives it: SendStart and SendHeader are each
// called once, SendBody repeatedly until it reports Done.
type Request struct {
	method string
	u      *url.URL
	header Header

	body          io.Reader
	contentLength int64 // -1 means unknown: send chunked
	bodyLength    int64 // contentLength as given to SetBody, restored on resend
	bodyReadBuf   []byte
	bodyDone      bool
	chunkDone     bool // chunked mode only: final "0\r\n\r\n" already emitted

	expectContinue bool
	autoRedirect   bool

	resp message.Response

	connID       uint64
	client       any
	status       int
	tryCreds     any
	onFinished   func()
}

// NewRequest builds a Request with no body. Use SetBody to attach one.
func NewRequest(method string, u *url.URL, resp message.Response) *Request {
	return &Request{
		method:        method,
		u:             u,
		header:        make(Header),
		contentLength: 0,
		autoRedirect:  true,
		resp:          resp,
	}
}

// SetBody attaches a request body. contentLength >= 0 sends a
// Content-Length header and exactly that many bytes; contentLength < 0
// sends Transfer-Encoding: chunked and reads body until io.EOF.
func (r *Request) SetBody(body io.Reader, contentLength int64) {
	r.body = body
	r.contentLength = contentLength
	r.bodyLength = contentLength
	if contentLength < 0 {
		r.bodyReadBuf = make([]byte, 32*1024)
	}
}

// SetExpectContinue marks this request to send Expect: 100-continue and
// wait for the server's interim response before the body is sent.
func (r *Request) SetExpectContinue(v bool) { r.expectContinue = v }

// SetAutoRedirect controls whether request-level policy may follow 3xx
// responses for this request. Defaults to true.
func (r *Request) SetAutoRedirect(v bool) { r.autoRedirect = v }

// OnFinished registers a callback fired from Finished, used by the
// caller-facing client facade to signal completion of a Do call.
func (r *Request) OnFinished(fn func()) { r.onFinished = fn }

func (r *Request) Method() string   { return r.method }
func (r *Request) URL() *url.URL    { return r.u }
func (r *Request) SetURL(u *url.URL) { r.u = u }

func (r *Request) SetHeader(name, value string) { r.header.Set(name, value) }
func (r *Request) HasHeader(name string) bool    { return r.header.Has(name) }
func (r *Request) Header() Header                { return r.header }

func (r *Request) SetAuthorization(value string) { r.header.Set("Authorization", value) }
func (r *Request) ExpectContinue() bool          { return r.expectContinue }

func (r *Request) SendStart() []byte {
	path := r.u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if r.u.RawQuery != "" {
		path += "?" + r.u.RawQuery
	}
	return []byte(fmt.Sprintf("%s %s HTTP/1.1\r\n", r.method, path))
}

// hostHeaderValue builds the Host header value for u, punycode-encoding
// a non-ASCII hostname so the wire form stays within RFC 952/1123
// hostname syntax regardless of what the caller's URL carried.
func hostHeaderValue(u *url.URL) string {
	host := u.Hostname()
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(host, port)
	}
	return host
}

func (r *Request) SendHeader() []byte {
	if !r.header.Has("Host") {
		r.header.Set("Host", hostHeaderValue(r.u))
	}
	switch {
	case r.contentLength > 0 || (r.contentLength == 0 && r.body != nil):
		r.header.Set("Content-Length", strconv.FormatInt(r.contentLength, 10))
	case r.contentLength < 0:
		r.header.Set("Transfer-Encoding", "chunked")
	}
	if r.expectContinue {
		r.header.Set("Expect", "100-continue")
	}
	if !r.header.Has("Connection") {
		r.header.Set("Connection", "keep-alive")
	}

	var buf []byte
	for _, k := range r.header.sortedKeys() {
		for _, v := range r.header[k] {
			buf = append(buf, k...)
			buf = append(buf, ':', ' ')
			buf = append(buf, v...)
			buf = append(buf, '\r', '\n')
		}
	}
	buf = append(buf, '\r', '\n')
	return buf
}

// SendBody pulls the next chunk of the request body. A nil body, or a
// fully-sent Content-Length body, reports Done on the first call after
// exhaustion; a chunked body ends with "0\r\n\r\n", appended to the last
// chunk when the reader returns data together with io.EOF and emitted by
// the next call otherwise.
func (r *Request) SendBody() message.BodyChunk {
	if r.body == nil || r.bodyDone {
		return message.BodyChunk{Done: true}
	}

	if r.contentLength >= 0 {
		buf := make([]byte, min64(r.contentLength, 64*1024))
		if len(buf) == 0 {
			r.bodyDone = true
			return message.BodyChunk{Done: true}
		}
		n, err := r.body.Read(buf)
		if n > 0 {
			r.contentLength -= int64(n)
			if r.contentLength == 0 {
				r.bodyDone = true
			}
			return message.BodyChunk{Data: buf[:n]}
		}
		if err != nil {
			r.bodyDone = true
			return message.BodyChunk{Done: true}
		}
		return message.BodyChunk{Blocked: true}
	}

	// Chunked: one read, one chunk, until EOF, then the terminator.
	n, err := r.body.Read(r.bodyReadBuf)
	if n > 0 {
		chunk := append([]byte(fmt.Sprintf("%x\r\n", n)), r.bodyReadBuf[:n]...)
		chunk = append(chunk, '\r', '\n')
		if err == io.EOF {
			chunk = append(chunk, "0\r\n\r\n"...)
			r.chunkDone = true
			r.bodyDone = true
		}
		return message.BodyChunk{Data: chunk}
	}
	if err != nil {
		if !r.chunkDone {
			r.chunkDone = true
			r.bodyDone = true
			return message.BodyChunk{Data: []byte("0\r\n\r\n")}
		}
		r.bodyDone = true
		return message.BodyChunk{Done: true}
	}
	return message.BodyChunk{Blocked: true}
}

func (r *Request) SetConnection(id uint64) { r.connID = id }
func (r *Request) SetClient(owner any)     { r.client = owner }

func (r *Request) Disconnect(err error) {
	if r.resp != nil {
		r.resp.HandleDisconnect(err)
	}
}

func (r *Request) Finished() {
	if r.onFinished != nil {
		r.onFinished()
	}
}

func (r *Request) Response() message.Response { return r.resp }

// PrepareResend is the bookkeeping request-level policy needs before
// re-queuing this same Request after a redirect or an authentication
// challenge: a fresh Response for the new attempt, status reset to 0,
// framing headers cleared so SendHeader recomputes them, and the body
// rewound if it supports seeking. u is nil for an auth retry (same URL)
// and non-nil for a redirect.
func (r *Request) PrepareResend(u *url.URL, resp message.Response) error {
	if u != nil {
		r.u = u
	}
	if r.body != nil {
		if seeker, ok := r.body.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return err
			}
			r.contentLength = r.bodyLength
		} else if r.bodyDone {
			return ErrBodyNotResendable
		}
	}
	r.resp = resp
	r.status = 0
	r.bodyDone = false
	r.chunkDone = false
	r.header.Del("Content-Length")
	r.header.Del("Transfer-Encoding")
	return nil
}

func (r *Request) Status() int      { return r.status }
func (r *Request) SetStatus(s int)  { r.status = s }
func (r *Request) AutoRedirect() bool { return r.autoRedirect }

func (r *Request) TryCredentials() any      { return r.tryCreds }
func (r *Request) SetTryCredentials(v any)  { r.tryCreds = v }

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
