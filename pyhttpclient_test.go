package pyhttpclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/sreylindoung/pyhttpclient/auth"
	"github.com/sreylindoung/pyhttpclient/config"
	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/message/wire"
)

// loopbackDNS resolves every host to 127.0.0.1, so tests never touch a
// real resolver - the mock server always listens on the loopback
// interface.
func loopbackDNS() *dnscache.Cache {
	return dnscache.New(dnscache.WithResolver(loopbackResolver{}))
}

type loopbackResolver struct{}

func (loopbackResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.IPv4(127, 0, 0, 1)}}, nil
}

// rawRequest is one HTTP/1.1 request as a mock server read it off the wire.
type rawRequest struct {
	method, path string
	headers      map[string]string
	body         []byte
}

// readRawRequest parses exactly one pipelined request from r: the start
// line, the header block, and - if framed by Content-Length - the body.
// Good enough for the mock servers below; not a general parser.
func readRawRequest(r *bufio.Reader) (*rawRequest, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed start line %q", line)
	}
	req := &rawRequest{method: fields[0], path: fields[1], headers: map[string]string{}}

	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(hline, "\r\n")
		if trimmed == "" {
			break
		}
		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			continue
		}
		req.headers[strings.TrimSpace(trimmed[:colon])] = strings.TrimSpace(trimmed[colon+1:])
	}

	if cl, ok := req.headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := readFull(r, buf); err != nil {
			return nil, err
		}
		req.body = buf
	}
	return req, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithDNSCache(loopbackDNS()), WithWorkers(1)}, opts...)
	c := New(config.New(config.WithConnTimeout(2*time.Second)), opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestSimpleGET drives the first literal scenario: a GET against a mock
// returning a fixed keep-alive body.
func TestSimpleGET(t *testing.T) {
	g := NewWithT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := readRawRequest(r); err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\n\r\nhello"))
	}()

	c := newClient(t)
	u, err := url.Parse("http://" + ln.Addr().String() + "/p")
	g.Expect(err).NotTo(HaveOccurred())

	req := c.NewRequest("GET", u)
	g.Expect(c.Do(req, 5*time.Second)).To(Succeed())

	g.Expect(req.Status()).To(Equal(200))
	resp := req.Response().(interface{ Body() []byte })
	g.Expect(string(resp.Body())).To(Equal("hello"))
}

// TestPipelinedGETs drives the second literal scenario: two GETs queued
// to the same thread/target land on one connection and come back in
// request order.
func TestPipelinedGETs(t *testing.T) {
	g := NewWithT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	var acceptCount int
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		acceptCount++
		defer conn.Close()
		r := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			if _, err := readRawRequest(r); err != nil {
				return
			}
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\nA"))
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\nB"))
	}()

	c := newClient(t)
	addr := ln.Addr().String()

	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	u1, _ := url.Parse("http://" + addr + "/one")
	u2, _ := url.Parse("http://" + addr + "/two")
	req1 := c.NewRequest("GET", u1)
	req2 := c.NewRequest("GET", u2)

	go func() { done1 <- c.Do(req1, 5*time.Second) }()
	time.Sleep(10 * time.Millisecond) // keep req1 ahead of req2 in queue order
	go func() { done2 <- c.Do(req2, 5*time.Second) }()

	g.Expect(<-done1).To(Succeed())
	g.Expect(<-done2).To(Succeed())

	g.Expect(req1.Status()).To(Equal(200))
	g.Expect(req2.Status()).To(Equal(200))
	g.Expect(bodyOf(t, req1)).To(Equal("A"))
	g.Expect(bodyOf(t, req2)).To(Equal("B"))
}

// TestPOSTStallsPipeline drives the third literal scenario: a GET, a
// POST, and a GET queued on the same connection; the POST only starts
// once the first GET's response completes, and the second GET only
// starts once the POST's response completes.
func TestPOSTStallsPipeline(t *testing.T) {
	g := NewWithT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	var seen []string
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		req, err := readRawRequest(r)
		if err != nil {
			return
		}
		seen = append(seen, req.method)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\nA"))

		req, err = readRawRequest(r)
		if err != nil {
			return
		}
		seen = append(seen, req.method)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\nB"))

		req, err = readRawRequest(r)
		if err != nil {
			return
		}
		seen = append(seen, req.method)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\nC"))
	}()

	c := newClient(t)
	addr := ln.Addr().String()

	uGet1, _ := url.Parse("http://" + addr + "/g1")
	uPost, _ := url.Parse("http://" + addr + "/post")
	uGet2, _ := url.Parse("http://" + addr + "/g2")

	reqGet1 := c.NewRequest("GET", uGet1)
	reqPost := c.NewRequest("POST", uPost)
	reqPost.SetBody(strings.NewReader("x"), 1)
	reqGet2 := c.NewRequest("GET", uGet2)

	d1 := make(chan error, 1)
	d2 := make(chan error, 1)
	d3 := make(chan error, 1)
	go func() { d1 <- c.Do(reqGet1, 5*time.Second) }()
	time.Sleep(5 * time.Millisecond)
	go func() { d2 <- c.Do(reqPost, 5*time.Second) }()
	time.Sleep(5 * time.Millisecond)
	go func() { d3 <- c.Do(reqGet2, 5*time.Second) }()

	g.Expect(<-d1).To(Succeed())
	g.Expect(<-d2).To(Succeed())
	g.Expect(<-d3).To(Succeed())
	<-serverDone

	g.Expect(seen).To(Equal([]string{"GET", "POST", "GET"}))
}

// TestContinueTimeoutSendsBodyAnyway drives the fourth literal scenario
// with a short ContinueWaitMax rather than the documented 60s, so the
// test stays fast: the server never sends a 100-continue interim
// response, and the body goes out once the wait elapses anyway.
func TestContinueTimeoutSendsBodyAnyway(t *testing.T) {
	g := NewWithT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		req, err := readRawRequest(r)
		if err != nil {
			return
		}
		if len(req.body) != 1 {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n"))
	}()

	cfg := config.New(config.WithConnTimeout(2*time.Second), config.WithContinueWaitMax(50*time.Millisecond))
	c2 := New(cfg, WithDNSCache(loopbackDNS()), WithWorkers(1))
	defer c2.Close()

	u, _ := url.Parse("http://" + ln.Addr().String() + "/put")
	req := c2.NewRequest("PUT", u)
	req.SetExpectContinue(true)
	req.SetBody(strings.NewReader("x"), 1)

	g.Expect(c2.Do(req, 5*time.Second)).To(Succeed())
	g.Expect(req.Status()).To(Equal(200))
}

// TestRedirectFollowsAndResolvesLocation drives the fifth literal
// scenario: a GET answered with a relative Location is automatically
// re-queued against the resolved URL.
func TestRedirectFollowsAndResolvesLocation(t *testing.T) {
	g := NewWithT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	var paths []string
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			r := bufio.NewReader(conn)
			req, err := readRawRequest(r)
			if err != nil {
				conn.Close()
				return
			}
			paths = append(paths, req.path)
			if req.path == "/first" {
				conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /other\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
			} else {
				conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"))
			}
			conn.Close()
		}
	}()

	c := newClient(t)
	u, _ := url.Parse("http://" + ln.Addr().String() + "/first")
	req := c.NewRequest("GET", u)
	g.Expect(c.Do(req, 5*time.Second)).To(Succeed())

	g.Expect(req.Status()).To(Equal(200))
	g.Expect(req.URL().Path).To(Equal("/other"))
	g.Expect(paths).To(Equal([]string{"/first", "/other"}))
}

// TestChallengeRetriesWithCredentialsAndRetainsThem drives the success
// half of the sixth literal scenario: a 401 followed by a matching
// credential succeeds and the credential is retained for its path.
// Discarding credentials after a second 401 is covered in policy's
// TestSecondFailureAfterCredentialRetryDiscardsCredentials.
func TestChallengeRetriesWithCredentialsAndRetainsThem(t *testing.T) {
	g := NewWithT(t)

	store := auth.NewBasicStore()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	defer ln.Close()

	space := auth.SpaceOf(mustParseTest(t, "http://"+ln.Addr().String()+"/"))
	store.Add(space, auth.BasicCredentials{Username: "alice", Password: "secret"})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		req, err := readRawRequest(r)
		if err != nil {
			return
		}
		if req.headers["Authorization"] != "" {
			return
		}
		conn.Write([]byte("HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"r\"\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n"))

		req, err = readRawRequest(r)
		if err != nil {
			return
		}
		if req.headers["Authorization"] == "" {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n"))
	}()

	c := newClient(t, WithCredentials(store))
	u, _ := url.Parse("http://" + ln.Addr().String() + "/private")
	req := c.NewRequest("GET", u)
	g.Expect(c.Do(req, 5*time.Second)).To(Succeed())
	g.Expect(req.Status()).To(Equal(200))
	g.Expect(store.TestURL(u)).NotTo(BeNil())
}

func mustParseTest(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return u
}

func bodyOf(t *testing.T, req *wire.Request) string {
	t.Helper()
	resp, ok := req.Response().(*wire.Response)
	if !ok {
		t.Fatalf("response is not *wire.Response")
	}
	return string(resp.Body())
}
