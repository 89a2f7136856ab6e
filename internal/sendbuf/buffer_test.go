package sendbuf

import (
	"bytes"
	"testing"
)

func TestEnqueueTracksSize(t *testing.T) {
	b := New()
	size, wasEmpty := b.Enqueue(Chunk{Kind: KindPub, Data: []byte("PUB a 5\r\n")})
	if !wasEmpty {
		t.Fatal("expected first enqueue to report wasEmpty")
	}
	if size != len("PUB a 5\r\n") {
		t.Fatalf("size = %d, want %d", size, len("PUB a 5\r\n"))
	}
	_, wasEmpty = b.Enqueue(Chunk{Kind: KindPub, Data: []byte("hello\r\n")})
	if wasEmpty {
		t.Fatal("second enqueue should not report wasEmpty")
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestDrainResetsBuffer(t *testing.T) {
	b := New()
	b.Enqueue(Chunk{Kind: KindPing, Data: []byte("PING\r\n")})
	chunks := b.Drain()
	if len(chunks) != 1 {
		t.Fatalf("drained %d chunks, want 1", len(chunks))
	}
	if b.Size() != 0 || b.Len() != 0 {
		t.Fatal("buffer should be empty after Drain")
	}
}

func TestFlushCoalescesText(t *testing.T) {
	chunks := []Chunk{
		{Kind: KindSub, Data: []byte("SUB foo 1\r\n")},
		{Kind: KindPub, Data: []byte("PUB foo 5\r\n")},
	}
	var buf bytes.Buffer
	if err := Flush(&buf, chunks); err != nil {
		t.Fatal(err)
	}
	want := "SUB foo 1\r\nPUB foo 5\r\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestFlushMixedWritesIndividually(t *testing.T) {
	chunks := []Chunk{
		{Kind: KindPub, Data: []byte("PUB foo 5\r\n")},
		{Kind: KindPub, Data: []byte{0x00, 0x01, 0x02}, Binary: true},
		{Kind: KindPub, Data: []byte("\r\n")},
	}
	var buf bytes.Buffer
	if err := Flush(&buf, chunks); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != len("PUB foo 5\r\n")+3+len("\r\n") {
		t.Fatalf("unexpected length %d", buf.Len())
	}
}

func TestRebuildResetsSize(t *testing.T) {
	b := New()
	b.Enqueue(Chunk{Kind: KindPub, Data: []byte("PUB a 1\r\nx\r\n")})
	b.Rebuild([]Chunk{{Kind: KindPub, Data: []byte("PUB b 1\r\n")}})
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	if b.Size() != len("PUB b 1\r\n") {
		t.Fatalf("Size() = %d, want %d", b.Size(), len("PUB b 1\r\n"))
	}
}
