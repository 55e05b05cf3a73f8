package conn

import (
	"time"

	"github.com/sreylindoung/pyhttpclient/iosock"
	"github.com/sreylindoung/pyhttpclient/message"
)

// stepSend is the send phase of Step. It returns whether the caller should
// keep waiting on writability (wbusy), the fd to wait on (-1 if none), and
// whether the outer Step loop should restart from the top (done) because
// this call made forward progress that might unblock earlier steps.
func (c *Connection) stepSend() (wbusy bool, writeFD int, done bool, err error) {
	writeFD = -1

	switch {
	case !c.sendBuf.Empty():
		blocked, sendErr := c.sendChunk()
		if sendErr != nil {
			c.closeLocked(sendErr)
			return false, -1, false, sendErr
		}
		if blocked {
			if tErr := c.checkInactivity(); tErr != nil {
				c.closeLocked(tErr)
				return false, -1, false, tErr
			}
		}
		if !c.sendBuf.Empty() {
			return true, c.socket.FD(), false, nil
		}
		return false, -1, true, nil

	case c.mode == BodyWaiting:
		if c.continueWaitStart.IsZero() {
			c.continueWaitStart = time.Now()
		} else if time.Since(c.continueWaitStart) > c.cfg.ContinueWaitMax {
			c.log.Warn("100-continue wait exceeded, sending body anyway")
			c.mode = BodySending
		}
		return false, -1, false, nil

	case c.mode == BodySending:
		chunk := c.currentReq.SendBody()
		switch {
		case chunk.Done:
			// The request's bytes are fully on the wire; its Finished hook
			// waits for the paired Response to complete (see pending).
			c.currentReq = nil
			c.mode = Ready
			return false, -1, true, nil
		case chunk.Blocked:
			return false, -1, false, nil
		default:
			c.sendBuf.Push(chunk.Data)
			return false, -1, true, nil
		}
	}

	return false, -1, false, nil
}

// sendChunk attempts one non-blocking write of the head of send_buffer.
// blocked reports that nothing could be written right now, which is not
// itself an error.
func (c *Connection) sendChunk() (blocked bool, err error) {
	head := c.sendBuf.Head()
	n, sendErr := c.socket.Send(head)
	if sendErr != nil {
		if sendErr == iosock.ErrWouldBlock {
			return true, nil
		}
		return false, sendErr
	}
	if n == 0 {
		// Peer shut down its read side mid-write: the in-flight request is
		// abandoned, but any already-queued responses still drain normally.
		if c.currentReq != nil {
			c.currentReq.Disconnect(nil)
			c.currentReq = nil
		}
		c.mode = CloseWait
		c.sendBuf.Reset()
		return false, nil
	}
	c.sendBuf.Consume(n)
	c.lastRW = time.Now()
	return false, nil
}

// startRequest is _start_request: bind req to this connection, flush its
// start line and headers into send_buffer, and either attach it as the
// current response or append it behind the one already in flight.
func (c *Connection) startRequest(req message.Request) {
	c.currentReq = req
	c.sendBuf.Push(req.SendStart())
	c.sendBuf.Push(req.SendHeader())

	if req.ExpectContinue() {
		c.mode = BodyWaiting
		c.continueWaitStart = time.Time{}
	} else {
		c.mode = BodySending
	}

	p := pending{req: req, resp: req.Response()}
	if c.currentPending != nil {
		c.pendingQueue = append(c.pendingQueue, p)
	} else {
		c.currentPending = &p
		p.resp.StartReceiving()
	}
}

// continueSending advances a BODY_WAITING connection to BODY_SENDING when
// a 1xx informational response arrives for the request currently holding
// the send side.
func (c *Connection) continueSending(req message.Request) {
	if c.currentReq == req && c.mode == BodyWaiting {
		c.mode = BodySending
	}
}
