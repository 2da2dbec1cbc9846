package buffer

import (
	"bytes"
	"errors"
	"testing"
)

func TestIntegerRoundTrip(t *testing.T) {
	b := New()
	if err := b.WriteByte(0x7F); err != nil {
		t.Fatal(err)
	}
	b.WriteUint16(0xBEEF)
	b.WriteUint32(0xDEADBEEF)

	if got, _ := b.ReadByte(); got != 0x7F {
		t.Fatalf("ReadByte = %#x", got)
	}
	if got, _ := b.ReadUint16(); got != 0xBEEF {
		t.Fatalf("ReadUint16 = %#x", got)
	}
	if got, _ := b.ReadUint32(); got != 0xDEADBEEF {
		t.Fatalf("ReadUint32 = %#x", got)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes = %d after draining", b.ReadableBytes())
	}
}

func TestShortReadDoesNotAdvanceCursor(t *testing.T) {
	b := NewFrom([]byte{0x01})
	if _, err := b.ReadUint16(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("ReadUint16 on 1 byte = %v, want ErrShortBuffer", err)
	}
	if b.Pos() != 0 {
		t.Fatalf("cursor moved to %d on failed read", b.Pos())
	}
	// The byte is still readable afterwards.
	if got, err := b.ReadByte(); err != nil || got != 0x01 {
		t.Fatalf("ReadByte after failed ReadUint16 = %#x, %v", got, err)
	}
}

func TestStringFraming(t *testing.T) {
	b := New()
	b.WriteString("hello")
	b.WriteBinary([]byte{0xCA, 0xFE})

	s, err := b.ReadString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	p, err := b.ReadBinary()
	if err != nil || !bytes.Equal(p, []byte{0xCA, 0xFE}) {
		t.Fatalf("ReadBinary = %x, %v", p, err)
	}
}

func TestStringTruncatedBody(t *testing.T) {
	// Length prefix says 5 bytes, only 2 present.
	b := NewFrom([]byte{0x00, 0x05, 'h', 'i'})
	if _, err := b.ReadString(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("ReadString on truncated body = %v, want ErrShortBuffer", err)
	}
}

func TestSubAndSeek(t *testing.T) {
	b := NewFrom([]byte{1, 2, 3, 4, 5})
	start := b.Pos()
	if _, err := b.ReadByte(); err != nil {
		t.Fatal(err)
	}
	sub, err := b.Sub(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sub.Bytes(), []byte{2, 3}) {
		t.Fatalf("Sub(2) = %v", sub.Bytes())
	}
	if b.ReadableBytes() != 2 {
		t.Fatalf("parent ReadableBytes = %d, want 2", b.ReadableBytes())
	}
	b.SeekTo(start)
	if b.ReadableBytes() != 5 {
		t.Fatalf("ReadableBytes after SeekTo = %d, want 5", b.ReadableBytes())
	}
}

func TestWriteSubSplicesFullContent(t *testing.T) {
	inner := New()
	inner.WriteString("x")
	outer := New()
	if err := outer.WriteByte(0xAA); err != nil {
		t.Fatal(err)
	}
	outer.WriteSub(inner)
	want := append([]byte{0xAA}, inner.Bytes()...)
	if !bytes.Equal(outer.Bytes(), want) {
		t.Fatalf("WriteSub = %x, want %x", outer.Bytes(), want)
	}
}
