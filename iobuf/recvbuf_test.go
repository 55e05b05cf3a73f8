package iobuf

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestRecvBufferFindCRLFAcrossChunks(t *testing.T) {
	g := NewWithT(t)

	var b RecvBuffer
	b.Append([]byte("HTTP/1.1 200"))
	b.Append([]byte(" OK\r"))
	b.Append([]byte("\nContent-Length: 5\r\n\r\nhello"))

	offset, found := b.FindCRLF()
	g.Expect(found).To(BeTrue())
	g.Expect(offset).To(Equal(len("HTTP/1.1 200 OK")))

	line := b.TakeThrough(offset, 2)
	g.Expect(string(line)).To(Equal("HTTP/1.1 200 OK\r\n"))
	g.Expect(b.Size()).To(Equal(len("Content-Length: 5\r\n\r\nhello")))
}

func TestRecvBufferFindHeaderTerminator(t *testing.T) {
	g := NewWithT(t)

	var b RecvBuffer
	b.Append([]byte("Content-Length: 5\r\n"))
	b.Append([]byte("Connection: keep-alive\r\n"))
	b.Append([]byte("\r\nhello"))

	offset, found := b.FindHeaderTerminator()
	g.Expect(found).To(BeTrue())

	block := b.TakeThrough(offset, 4)
	g.Expect(string(block)).To(Equal("Content-Length: 5\r\nConnection: keep-alive\r\n\r\n"))
	g.Expect(string(b.DrainAll())).To(Equal("hello"))
}

func TestRecvBufferExtractStraddlesChunkBoundary(t *testing.T) {
	g := NewWithT(t)

	var b RecvBuffer
	// A single 10-byte logical payload delivered in 3-byte increments,
	// straddling the boundary recvN asks for.
	b.Append([]byte("abc"))
	b.Append([]byte("def"))
	b.Append([]byte("ghij"))

	g.Expect(b.Size()).To(Equal(10))

	first := b.Extract(7)
	g.Expect(string(first)).To(Equal("abcdefg"))
	g.Expect(b.Size()).To(Equal(3))

	rest := b.Extract(3)
	g.Expect(string(rest)).To(Equal("hij"))
	g.Expect(b.Empty()).To(BeTrue())
}

func TestRecvBufferEmptyAfterDrain(t *testing.T) {
	g := NewWithT(t)

	var b RecvBuffer
	g.Expect(b.Empty()).To(BeTrue())
	g.Expect(b.DrainAll()).To(BeNil())

	b.Append([]byte("x"))
	b.Reset()
	g.Expect(b.Empty()).To(BeTrue())
	g.Expect(b.Size()).To(Equal(0))
}
