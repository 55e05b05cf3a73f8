package conn

import (
	"time"

	"github.com/sreylindoung/pyhttpclient/iobuf"
	"github.com/sreylindoung/pyhttpclient/iosock"
	"github.com/sreylindoung/pyhttpclient/message"
)

// stepRecv is the receive phase of Step: at most one socket read, then as
// much parsing of the buffered bytes as recv_mode allows without another
// read. rbusy/readFD mirror stepSend's wbusy/writeFD.
func (c *Connection) stepRecv() (rbusy bool, readFD int, done bool, err error) {
	readFD = -1
	if c.currentPending == nil {
		return false, -1, false, nil
	}

	buf := iobuf.GetChunk(c.cfg.ChunkSize)
	n, recvErr := c.socket.Recv(buf)
	switch {
	case recvErr == iosock.ErrWouldBlock:
		iobuf.PutChunk(buf)
		if tErr := c.checkInactivity(); tErr != nil {
			c.closeLocked(tErr)
			return false, -1, false, tErr
		}
		return true, c.socket.FD(), false, nil

	case recvErr != nil:
		iobuf.PutChunk(buf)
		c.recvErr = recvErr

	case n == 0:
		iobuf.PutChunk(buf)
		// A close-delimited body (N < 0) ends here normally: let
		// drainBuffered complete it through finishResponse.
		mode := c.currentPending.resp.RecvMode()
		if c.recvBuf.Empty() && !(mode.Kind == message.RecvN && mode.N < 0) {
			c.closeLocked(nil)
			return false, -1, true, nil
		}
		c.recvEOF = true

	default:
		c.recvBuf.Append(buf[:n])
		c.lastRW = time.Now()
		iobuf.PutChunk(buf)
	}

	return c.drainBuffered()
}

// drainBuffered consumes recv_buffer against the current response's
// recv_mode, without performing any further socket reads, until either the
// response completes, more bytes are needed than are buffered, or a
// latched read error/EOF forces a close.
func (c *Connection) drainBuffered() (rbusy bool, readFD int, done bool, err error) {
	for c.currentPending != nil {
		resp := c.currentPending.resp
		mode := resp.RecvMode()

		switch mode.Kind {
		case message.RecvDone:
			return c.finishResponse()

		case message.RecvHeaders:
			if offset, found := c.recvBuf.FindCRLF(); found && offset == 0 {
				line := c.recvBuf.TakeThrough(0, 2)
				resp.RecvLines([][]byte{line})
				resp.HandleHeaders()
				c.afterHeaders(resp)
				continue
			}
			offset, found := c.recvBuf.FindHeaderTerminator()
			if !found {
				if c.recvErr != nil {
					c.closeLocked(c.recvErr)
					return false, -1, true, c.recvErr
				}
				return c.waitReadable()
			}
			block := c.recvBuf.TakeThrough(offset, 4)
			resp.RecvLines(splitLines(block))
			resp.HandleHeaders()
			c.afterHeaders(resp)

		case message.RecvLine:
			offset, found := c.recvBuf.FindCRLF()
			if !found {
				if c.recvErr != nil {
					c.closeLocked(c.recvErr)
					return false, -1, true, c.recvErr
				}
				return c.waitReadable()
			}
			line := c.recvBuf.TakeThrough(offset, 2)
			resp.RecvLines([][]byte{line})

		case message.RecvN:
			switch {
			case mode.N == 0:
				resp.RecvBlocked()
				return c.waitReadable()
			case mode.N > 0:
				if c.recvBuf.Size() < mode.N {
					if c.recvEOF || c.recvErr != nil {
						c.closeLocked(c.recvErr)
						return false, -1, true, c.recvErr
					}
					return c.waitReadable()
				}
				resp.RecvBytes(c.recvBuf.Extract(mode.N))
			default: // N < 0: read-until-close
				if c.recvBuf.Empty() {
					if !c.recvEOF {
						return c.waitReadable()
					}
					// EOF with nothing left is the normal completion of a
					// close-delimited body: go straight to finishResponse
					// rather than looping back through RecvMode, since the
					// response has no way to know the peer hung up short
					// of being told via HandleMessage.
					return c.finishResponse()
				}
				resp.RecvBytes(c.recvBuf.DrainAll())
			}
		}
	}
	return false, -1, true, nil
}

// afterHeaders lets a 1xx informational response (most commonly "100
// Continue") release a connection still holding its body back for
// Expect: 100-continue. The response itself, not the connection, decides
// whether its own header block was final or informational; all the
// connection does is notice the status and stop waiting.
func (c *Connection) afterHeaders(resp message.Response) {
	if resp.Status() >= 100 && resp.Status() < 200 && c.currentPending != nil {
		c.continueSending(c.currentPending.req)
	}
}

func (c *Connection) waitReadable() (bool, int, bool, error) {
	return true, c.socket.FD(), false, nil
}

// finishResponse handles recv_mode() == none: the response is complete.
// It fires both hooks the exchange owes: the Response's HandleMessage and
// the paired Request's Finished, the latter being what lets request-level
// policy decide on a redirect or an auth retry.
func (c *Connection) finishResponse() (bool, int, bool, error) {
	done := c.currentPending
	resp := done.resp

	c.protocol = resp.Protocol()
	closeConn := !resp.KeepAlive()
	resp.HandleMessage()
	done.req.SetStatus(resp.Status())
	done.req.Finished()

	if len(c.pendingQueue) > 0 {
		next := c.pendingQueue[0]
		c.pendingQueue = c.pendingQueue[1:]
		c.currentPending = &next
		next.resp.StartReceiving()
	} else {
		c.currentPending = nil
		if c.mode == CloseWait {
			closeConn = true
		}
	}

	if closeConn {
		c.closeLocked(nil)
	}
	return false, -1, true, nil
}

func splitLines(block []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i+1 < len(block); i++ {
		if block[i] == '\r' && block[i+1] == '\n' {
			lines = append(lines, block[start:i+2])
			start = i + 2
			i++
		}
	}
	return lines
}
