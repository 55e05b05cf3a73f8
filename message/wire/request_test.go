package wire

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/sreylindoung/pyhttpclient/message"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestRequestSendStartAndHeader(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/search?q=go")
	req := NewRequest("GET", u, NewResponse("GET"))

	g.Expect(string(req.SendStart())).To(Equal("GET /search?q=go HTTP/1.1\r\n"))

	header := string(req.SendHeader())
	g.Expect(header).To(ContainSubstring("Host: example.com\r\n"))
	g.Expect(header).To(ContainSubstring("Connection: keep-alive\r\n"))
	g.Expect(header).To(HaveSuffix("\r\n\r\n"))
}

func TestRequestSendStartDefaultsToRootPath(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com")
	req := NewRequest("GET", u, NewResponse("GET"))
	g.Expect(string(req.SendStart())).To(Equal("GET / HTTP/1.1\r\n"))
}

func TestRequestSendBodyContentLength(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/upload")
	req := NewRequest("POST", u, NewResponse("POST"))
	body := "hello"
	req.SetBody(strings.NewReader(body), int64(len(body)))

	header := string(req.SendHeader())
	g.Expect(header).To(ContainSubstring("Content-Length: 5\r\n"))

	var got bytes.Buffer
	for {
		chunk := req.SendBody()
		if chunk.Done {
			break
		}
		g.Expect(chunk.Blocked).To(BeFalse())
		got.Write(chunk.Data)
	}
	g.Expect(got.String()).To(Equal(body))

	// A second call after Done must keep reporting Done, not re-read.
	g.Expect(req.SendBody().Done).To(BeTrue())
}

func TestRequestSendBodyChunked(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/upload")
	req := NewRequest("POST", u, NewResponse("POST"))
	req.SetBody(strings.NewReader("abc"), -1)

	header := string(req.SendHeader())
	g.Expect(header).To(ContainSubstring("Transfer-Encoding: chunked\r\n"))

	var got bytes.Buffer
	for {
		chunk := req.SendBody()
		if chunk.Done {
			break
		}
		got.Write(chunk.Data)
	}
	g.Expect(got.String()).To(Equal("3\r\nabc\r\n0\r\n\r\n"))
}

func TestRequestExpectContinue(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/upload")
	req := NewRequest("PUT", u, NewResponse("PUT"))
	req.SetExpectContinue(true)
	req.SetBody(strings.NewReader("x"), 1)

	g.Expect(req.ExpectContinue()).To(BeTrue())
	header := string(req.SendHeader())
	g.Expect(header).To(ContainSubstring("Expect: 100-continue\r\n"))
}

func TestRequestPrepareResendForRedirect(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/old")
	req := NewRequest("GET", u, NewResponse("GET"))
	req.SetStatus(302)

	newURL := mustURL(t, "http://example.com/new")
	newResp := NewResponse("GET")
	g.Expect(req.PrepareResend(newURL, newResp)).To(Succeed())

	g.Expect(req.URL()).To(Equal(newURL))
	g.Expect(req.Status()).To(Equal(0))
	g.Expect(req.Response()).To(BeIdenticalTo(message.Response(newResp)))
}

// onceReader is a minimal io.Reader with no Seek method, so
// PrepareResend cannot rewind it.
type onceReader struct{ r *strings.Reader }

func (o *onceReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestRequestPrepareResendRejectsUnreadableConsumedBody(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/upload")
	req := NewRequest("POST", u, NewResponse("POST"))
	req.SetBody(&onceReader{r: strings.NewReader("x")}, 1)

	for !req.SendBody().Done {
	}

	err := req.PrepareResend(nil, NewResponse("POST"))
	g.Expect(err).To(MatchError(ErrBodyNotResendable))
}

func TestRequestFinishedInvokesOnFinished(t *testing.T) {
	g := NewWithT(t)

	u := mustURL(t, "http://example.com/")
	req := NewRequest("GET", u, NewResponse("GET"))

	called := false
	req.OnFinished(func() { called = true })
	req.Finished()
	g.Expect(called).To(BeTrue())
}
