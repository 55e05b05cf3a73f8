package pool

import (
	"net/url"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/sreylindoung/pyhttpclient/conn"
	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/internal/errs"
	"github.com/sreylindoung/pyhttpclient/message"
)

// fakeResponse is the minimal message.Response a pool test needs: the
// pool never steps a connection's wire traffic, only admits requests
// onto one, so every hook here is a no-op.
type fakeResponse struct{}

func (fakeResponse) StartReceiving()             {}
func (fakeResponse) RecvMode() message.RecvMode   { return message.RecvMode{Kind: message.RecvDone} }
func (fakeResponse) RecvLines([][]byte)           {}
func (fakeResponse) RecvBytes([]byte)             {}
func (fakeResponse) RecvBlocked()                 {}
func (fakeResponse) HandleHeaders()               {}
func (fakeResponse) HandleMessage()               {}
func (fakeResponse) HandleDisconnect(error)        {}
func (fakeResponse) Status() int                  { return 0 }
func (fakeResponse) Protocol() string             { return "" }
func (fakeResponse) SetProtocol(string)           {}
func (fakeResponse) KeepAlive() bool              { return true }
func (fakeResponse) HeaderValues(string) []string { return nil }

// fakeRequest is the minimal message.Request a pool test needs: just
// enough bookkeeping to exercise admission, reuse, and eviction without
// ever being stepped onto a real socket.
type fakeRequest struct {
	method string
	u      *url.URL
	connID uint64
}

func newFakeRequest(method, rawURL string) *fakeRequest {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return &fakeRequest{method: method, u: u}
}

func (r *fakeRequest) Method() string               { return r.method }
func (r *fakeRequest) URL() *url.URL                { return r.u }
func (r *fakeRequest) SetURL(u *url.URL)            { r.u = u }
func (r *fakeRequest) SetHeader(string, string)      {}
func (r *fakeRequest) HasHeader(string) bool         { return false }
func (r *fakeRequest) SetAuthorization(string)       {}
func (r *fakeRequest) ExpectContinue() bool          { return false }
func (r *fakeRequest) SendStart() []byte             { return nil }
func (r *fakeRequest) SendHeader() []byte            { return nil }
func (r *fakeRequest) SendBody() message.BodyChunk   { return message.BodyChunk{Done: true} }
func (r *fakeRequest) SetConnection(id uint64)       { r.connID = id }
func (r *fakeRequest) SetClient(any)                 {}
func (r *fakeRequest) Disconnect(error)              {}
func (r *fakeRequest) Finished()                     {}
func (r *fakeRequest) Response() message.Response    { return fakeResponse{} }
func (r *fakeRequest) Status() int                   { return 0 }
func (r *fakeRequest) SetStatus(int)                 {}
func (r *fakeRequest) AutoRedirect() bool            { return true }
func (r *fakeRequest) TryCredentials() any           { return nil }
func (r *fakeRequest) SetTryCredentials(any)         {}

var _ message.Request = (*fakeRequest)(nil)

func newTestPool(maxConnections int) *Pool {
	return New(maxConnections, dnscache.New(), conn.Config{})
}

func TestQueueRequestOpensOneConnectionPerTarget(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(10)
	req := newFakeRequest("GET", "http://h/p")
	g.Expect(p.QueueRequest(1, req, 0)).To(Succeed())
	g.Expect(req.connID).NotTo(BeZero())
	g.Expect(p.activeCount()).To(Equal(1))
}

func TestQueueRequestReusesActiveConnectionForSameThreadTarget(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(10)
	req1 := newFakeRequest("GET", "http://h/a")
	req2 := newFakeRequest("GET", "http://h/b")

	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())
	g.Expect(p.QueueRequest(1, req2, 0)).To(Succeed())

	g.Expect(req1.connID).To(Equal(req2.connID))
	g.Expect(p.activeCount()).To(Equal(1))
}

func TestQueueRequestSeparateThreadsGetSeparateConnections(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(10)
	req1 := newFakeRequest("GET", "http://h/a")
	req2 := newFakeRequest("GET", "http://h/b")

	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())
	g.Expect(p.QueueRequest(2, req2, 0)).To(Succeed())

	g.Expect(req1.connID).NotTo(Equal(req2.connID))
	g.Expect(p.activeCount()).To(Equal(2))
}

func TestQueueRequestReusesIdleConnectionForSameTarget(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(10)
	req1 := newFakeRequest("GET", "http://h/a")
	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())

	var idled *conn.Connection
	for _, c := range p.activeByThread[1] {
		idled = c
	}
	p.Deactivate(idled)
	g.Expect(p.idleByID).To(HaveLen(1))
	g.Expect(p.activeCount()).To(Equal(0))

	req2 := newFakeRequest("GET", "http://h/b")
	g.Expect(p.QueueRequest(2, req2, 0)).To(Succeed())
	g.Expect(req2.connID).To(Equal(idled.ID))
	g.Expect(p.idleByID).To(BeEmpty())
}

func TestQueueRequestBusyWithoutWait(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(1)
	req1 := newFakeRequest("GET", "http://h1/a")
	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())

	req2 := newFakeRequest("GET", "http://h2/a")
	err := p.QueueRequest(1, req2, 0)
	g.Expect(errs.Is(err, errs.CodeRequestManagerBusy)).To(BeTrue())
}

func TestQueueRequestEvictsOldestIdleWhenSaturated(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(1)
	req1 := newFakeRequest("GET", "http://h1/a")
	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())

	var c1 *conn.Connection
	for _, c := range p.activeByThread[1] {
		c1 = c
	}
	p.Deactivate(c1)
	g.Expect(p.idleByID).To(HaveLen(1))

	req2 := newFakeRequest("GET", "http://h2/a")
	g.Expect(p.QueueRequest(1, req2, 0)).To(Succeed())
	g.Expect(req2.connID).NotTo(Equal(c1.ID))
	g.Expect(c1.Closed()).To(BeTrue())
}

func TestQueueRequestRejectsAfterShutdown(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(10)
	p.Shutdown()
	g.Expect(p.Closing()).To(BeTrue())

	req := newFakeRequest("GET", "http://h/a")
	err := p.QueueRequest(1, req, 0)
	g.Expect(errs.Is(err, errs.CodeConnectionClosed)).To(BeTrue())
}

func TestQueueRequestWaitsThenSucceedsOnFreedSlot(t *testing.T) {
	g := NewWithT(t)

	p := newTestPool(1)
	req1 := newFakeRequest("GET", "http://h1/a")
	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())

	req2 := newFakeRequest("GET", "http://h2/a")
	done := make(chan error, 1)
	go func() { done <- p.QueueRequest(2, req2, time.Second) }()

	time.Sleep(20 * time.Millisecond)
	var c1 *conn.Connection
	for _, c := range p.activeByThread[1] {
		c1 = c
	}
	// Different target than req2 (h1 vs h2): Deactivate only frees it
	// into the idle set, forcing QueueRequest's own waiting goroutine to
	// evict it before it can open a connection for h2.
	p.Deactivate(c1)

	select {
	case err := <-done:
		g.Expect(err).NotTo(HaveOccurred())
	case <-time.After(2 * time.Second):
		t.Fatal("QueueRequest did not unblock after a slot freed")
	}
	g.Expect(req2.connID).NotTo(Equal(c1.ID))
	g.Expect(c1.Closed()).To(BeTrue())
}

func TestMaxPipelineBlocksFurtherEnqueueOnSameConnection(t *testing.T) {
	g := NewWithT(t)

	p := New(10, dnscache.New(), conn.Config{MaxPipeline: 1})
	req1 := newFakeRequest("GET", "http://h/a")
	g.Expect(p.QueueRequest(1, req1, 0)).To(Succeed())

	req2 := newFakeRequest("GET", "http://h/b")
	err := p.QueueRequest(1, req2, 0)
	g.Expect(errs.Is(err, errs.CodeRequestManagerBusy)).To(BeTrue())
}
