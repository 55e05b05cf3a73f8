package iobuf

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestSendBufferPartialConsume(t *testing.T) {
	g := NewWithT(t)

	var b SendBuffer
	g.Expect(b.Empty()).To(BeTrue())

	b.Push([]byte("hello "))
	b.Push([]byte("world"))
	g.Expect(b.Empty()).To(BeFalse())

	// Chunks consumed in smaller increments must still deliver their
	// bytes in order with nothing dropped or duplicated.
	g.Expect(string(b.Head())).To(Equal("hello "))
	b.Consume(3)
	g.Expect(string(b.Head())).To(Equal("lo "))
	b.Consume(3)
	g.Expect(string(b.Head())).To(Equal("world"))

	b.Consume(5)
	g.Expect(b.Empty()).To(BeTrue())
}

func TestSendBufferConsumeWholeChunk(t *testing.T) {
	g := NewWithT(t)

	var b SendBuffer
	b.Push([]byte("abc"))
	b.Push([]byte("def"))
	b.Consume(3)
	g.Expect(string(b.Head())).To(Equal("def"))
}

func TestSendBufferReset(t *testing.T) {
	g := NewWithT(t)

	var b SendBuffer
	b.Push([]byte("abc"))
	b.Reset()
	g.Expect(b.Empty()).To(BeTrue())
	g.Expect(b.Head()).To(BeNil())
}

func TestSendBufferPushEmptyIsNoop(t *testing.T) {
	g := NewWithT(t)

	var b SendBuffer
	b.Push(nil)
	g.Expect(b.Empty()).To(BeTrue())
}
