package iobuf

import "bytes"

// RecvBuffer is a segmented read queue: a sequence of received byte chunks
// with a running total size and bounded extraction, so recv_step can pull
// exactly the bytes a Response's recv_mode() asked for without copying
// bytes it hasn't consumed yet.
type RecvBuffer struct {
	chunks [][]byte
	size   int
}

// Append adds newly received bytes to the tail of the buffer.
func (b *RecvBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	b.chunks = append(b.chunks, cp)
	b.size += len(cp)
}

// Size returns the total number of unconsumed bytes.
func (b *RecvBuffer) Size() int {
	return b.size
}

// Empty reports whether the buffer holds no bytes.
func (b *RecvBuffer) Empty() bool {
	return b.size == 0
}

// consolidate joins every chunk into one contiguous slice and replaces the
// segmented representation with it. The HEADERS and LINE recv modes need a
// contiguous view to scan for CRLF.
func (b *RecvBuffer) consolidate() []byte {
	if len(b.chunks) <= 1 {
		if len(b.chunks) == 1 {
			return b.chunks[0]
		}
		return nil
	}
	joined := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		joined = append(joined, c...)
	}
	b.chunks = [][]byte{joined}
	return joined
}

// FindCRLF consolidates the buffer and reports the byte offset of the
// first "\r\n", used for the LINE recv mode and for the empty-header-block
// special case of HEADERS (CRLF at offset 0).
func (b *RecvBuffer) FindCRLF() (offset int, found bool) {
	buf := b.consolidate()
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// FindHeaderTerminator consolidates the buffer and reports the byte
// offset at which "\r\n\r\n" begins, used for the HEADERS recv mode.
func (b *RecvBuffer) FindHeaderTerminator() (offset int, found bool) {
	buf := b.consolidate()
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// TakeThrough removes and returns the first offset+terminatorLen bytes
// (the terminator included), leaving the remainder in
// the buffer. Used after FindHeaderTerminator (terminatorLen=4) or
// FindCRLF (terminatorLen=2) locate the cut point.
func (b *RecvBuffer) TakeThrough(offset, terminatorLen int) []byte {
	buf := b.consolidate()
	cut := offset + terminatorLen
	if cut > len(buf) {
		cut = len(buf)
	}
	out := make([]byte, cut)
	copy(out, buf[:cut])

	rest := buf[cut:]
	if len(rest) == 0 {
		b.chunks = nil
	} else {
		remainder := make([]byte, len(rest))
		copy(remainder, rest)
		b.chunks = [][]byte{remainder}
	}
	b.size -= cut
	return out
}

// Extract removes and returns exactly n bytes from the front of the
// buffer, splitting the chunk that straddles the n-byte boundary in
// place rather than consolidating the whole buffer. The caller must have
// already checked Size() >= n.
func (b *RecvBuffer) Extract(n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, 0, n)
	remaining := n
	i := 0
	for i < len(b.chunks) && remaining > 0 {
		c := b.chunks[i]
		if len(c) <= remaining {
			out = append(out, c...)
			remaining -= len(c)
			i++
			continue
		}
		out = append(out, c[:remaining]...)
		b.chunks[i] = c[remaining:]
		remaining = 0
	}
	b.chunks = b.chunks[i:]
	b.size -= n
	return out
}

// DrainAll removes and returns every buffered byte, for the "read until
// close" (n < 0) recv mode.
func (b *RecvBuffer) DrainAll() []byte {
	if b.size == 0 {
		return nil
	}
	out := b.consolidate()
	b.chunks = nil
	b.size = 0
	return out
}

// Reset discards all buffered bytes, used when a connection closes.
func (b *RecvBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
