package wire

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/sreylindoung/pyhttpclient/message"
)

type recvState int

const (
	stateStatusLine recvState = iota
	stateHeaders
	stateBodyLength
	stateChunkSize
	stateChunkData
	stateChunkTrailer
	stateBodyClose
	stateDone
)

// Response is the reference incremental HTTP/1.1 response parser: a
// state machine driven entirely by recv_mode/RecvLines/RecvBytes, never
// buffering more of the wire than one header block or one body chunk at
// a time.
type Response struct {
	method string // set at construction, for HEAD/1xx/204/304 framing

	state   recvState
	status  int
	proto   string
	header  Header

	bodyRemaining int64 // stateBodyLength
	chunkSize     int   // stateChunkData: bytes left including trailing CRLF

	keepAlive bool

	body    bytes.Buffer
	onBody  func([]byte)
	done    bool
	failed  error
}

// NewResponse builds a Response for a request made with method. method
// matters only for HEAD (never has a body regardless of headers) and is
// otherwise informational.
func NewResponse(method string) *Response {
	return &Response{method: method, header: make(Header), keepAlive: true}
}

// OnBody registers a callback invoked with each body chunk as it
// arrives, for callers that want to stream rather than buffer the whole
// response. When unset, the body accumulates in Body().
func (r *Response) OnBody(fn func([]byte)) { r.onBody = fn }

func (r *Response) Status() int         { return r.status }
func (r *Response) Protocol() string    { return r.proto }
func (r *Response) SetProtocol(p string) { r.proto = p }
func (r *Response) KeepAlive() bool     { return r.keepAlive }
func (r *Response) Header() Header      { return r.header }

func (r *Response) HeaderValues(name string) []string { return r.header[canonicalKey(name)] }
func (r *Response) Body() []byte        { return r.body.Bytes() }
func (r *Response) Err() error          { return r.failed }

func (r *Response) StartReceiving() {
	r.state = stateStatusLine
}

func (r *Response) RecvMode() message.RecvMode {
	switch r.state {
	case stateStatusLine:
		return message.RecvMode{Kind: message.RecvLine}
	case stateHeaders, stateChunkTrailer:
		return message.RecvMode{Kind: message.RecvHeaders}
	case stateBodyLength:
		n := r.bodyRemaining
		if n > 64*1024 {
			n = 64 * 1024
		}
		return message.RecvMode{Kind: message.RecvN, N: int(n)}
	case stateChunkSize:
		return message.RecvMode{Kind: message.RecvLine}
	case stateChunkData:
		return message.RecvMode{Kind: message.RecvN, N: r.chunkSize}
	case stateBodyClose:
		return message.RecvMode{Kind: message.RecvN, N: -1}
	default:
		return message.RecvMode{Kind: message.RecvDone}
	}
}

func (r *Response) RecvLines(lines [][]byte) {
	switch r.state {
	case stateStatusLine:
		r.parseStatusLine(lines[0])
		if r.state == stateStatusLine {
			r.state = stateHeaders
		}
	case stateHeaders, stateChunkTrailer:
		for _, line := range lines {
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(trimmed) == 0 {
				continue
			}
			colon := bytes.IndexByte(trimmed, ':')
			if colon <= 0 {
				continue
			}
			key := strings.TrimSpace(string(trimmed[:colon]))
			val := strings.TrimSpace(string(trimmed[colon+1:]))
			r.header.Add(key, val)
		}
	case stateChunkSize:
		line := strings.TrimSpace(string(lines[0]))
		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			line = line[:semi]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			r.failed = err
			r.state = stateDone
			return
		}
		if n == 0 {
			r.state = stateChunkTrailer
			return
		}
		r.chunkSize = int(n) + 2 // + trailing CRLF
	}
}

func (r *Response) RecvBytes(data []byte) {
	switch r.state {
	case stateBodyLength:
		r.deliverBody(data)
		r.bodyRemaining -= int64(len(data))
		if r.bodyRemaining <= 0 {
			r.state = stateDone
		}
	case stateChunkData:
		if len(data) >= 2 {
			r.deliverBody(data[:len(data)-2])
		}
		r.state = stateChunkSize
	case stateBodyClose:
		r.deliverBody(data)
	}
}

func (r *Response) RecvBlocked() {}

func (r *Response) deliverBody(p []byte) {
	if len(p) == 0 {
		return
	}
	if r.onBody != nil {
		r.onBody(p)
		return
	}
	r.body.Write(p)
}

// HandleHeaders decides body framing once the status line and one
// header block have both been delivered. A 1xx informational response
// (most commonly 100 Continue) resets straight back to the status line:
// it is never the exchange's final response.
func (r *Response) HandleHeaders() {
	if r.state == stateChunkTrailer {
		r.state = stateDone
		return
	}

	if r.status >= 100 && r.status < 200 {
		r.header = make(Header)
		r.state = stateStatusLine
		return
	}

	if conn := r.header.Get("Connection"); conn != "" {
		r.keepAlive = !strings.EqualFold(conn, "close")
	} else {
		r.keepAlive = r.proto == "HTTP/1.1"
	}

	if r.noBody() {
		r.state = stateDone
		return
	}

	if strings.EqualFold(r.header.Get("Transfer-Encoding"), "chunked") {
		r.state = stateChunkSize
		return
	}
	if cl := r.header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			r.failed = err
			r.state = stateDone
			return
		}
		if n == 0 {
			r.state = stateDone
			return
		}
		r.bodyRemaining = n
		r.state = stateBodyLength
		return
	}
	// No framing header: body is whatever arrives before the connection
	// closes, and the connection may not be reused afterward.
	r.keepAlive = false
	r.state = stateBodyClose
}

func (r *Response) noBody() bool {
	if r.method == "HEAD" {
		return true
	}
	switch r.status {
	case 204, 304:
		return true
	}
	return false
}

func (r *Response) HandleMessage() {}

func (r *Response) HandleDisconnect(err error) {
	if r.state == stateDone {
		return
	}
	if err == nil && r.state == stateBodyClose {
		// Close-delimited body ending at EOF is the normal completion
		// path for this framing, not a failure.
		r.state = stateDone
		return
	}
	r.failed = err
	r.state = stateDone
}

func (r *Response) parseStatusLine(line []byte) {
	s := string(bytes.TrimRight(line, "\r\n"))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		r.failed = ErrMalformedStatusLine
		r.state = stateDone
		return
	}
	r.proto = parts[0]
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		r.failed = ErrMalformedStatusLine
		r.state = stateDone
		return
	}
	r.status = code
}
