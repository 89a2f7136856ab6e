// Package sendbuf implements the outbound command buffer described in
// spec.md §4.C: accumulation, coalescing, and the flush-threshold
// heuristic. Grounded on the teacher's bufio.Writer + "kick the flusher"
// pattern (core/internal/connection: bw *bufio.Writer, SendRaw/Send) and
// on the real nats.go client's fch-channel flusher goroutine, adapted so
// the chunk kind is an explicit enum tag rather than a prefix-byte sniff
// (spec.md §9 REDESIGN FLAGS).
package sendbuf

import (
	"io"
	"sync"
)

// Kind tags what a pending chunk represents, so the reconnect-time filter
// (applied by the connection FSM) is a type match rather than a memcmp
// against literal bytes.
type Kind int

const (
	KindConnect Kind = iota
	KindSub
	KindUnsub
	KindPub
	KindPing
	KindPong
)

// FlushThreshold is the total buffered size above which the connection
// FSM flushes synchronously right after an enqueue, per spec.md §4.C.
const FlushThreshold = 65536

// Chunk is one queued command. Binary chunks are payload bytes that must
// never be mistaken for textual command lines (spec.md §9 Open
// Questions: the strip-on-handshake filter must only ever inspect chunks
// known to be textual).
type Chunk struct {
	Kind   Kind
	Data   []byte
	Binary bool
}

// Buffer is the ordered sequence of outbound chunks plus running size.
type Buffer struct {
	mu     sync.Mutex
	chunks []Chunk
	size   int
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Enqueue appends a chunk and returns the buffer's new total size and
// whether this was the first chunk queued since the last Drain.
func (b *Buffer) Enqueue(c Chunk) (newSize int, wasEmpty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasEmpty = len(b.chunks) == 0
	b.chunks = append(b.chunks, c)
	b.size += len(c.Data)
	return b.size, wasEmpty
}

// Size returns the current total buffered size.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of queued chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Drain atomically removes and returns all queued chunks, resetting size
// to zero.
func (b *Buffer) Drain() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	chunks := b.chunks
	b.chunks = nil
	b.size = 0
	return chunks
}

// Rebuild replaces the queue contents, used by the connection FSM to
// install the filtered pending set on each dial attempt (spec.md §4.H
// "Pending-buffer rebuild on each dial attempt").
func (b *Buffer) Rebuild(chunks []Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = chunks
	b.size = 0
	for _, c := range chunks {
		b.size += len(c.Data)
	}
}

// Flush writes all queued chunks to w using the coalescing fast path: an
// all-text run is concatenated into a single Write, an all-binary run
// into a single Write, and a mixed run is written chunk by chunk. Chunk
// boundaries are never split, so no CRLF is ever broken mid-write.
func Flush(w io.Writer, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	allText, allBinary := true, true
	for _, c := range chunks {
		if c.Binary {
			allText = false
		} else {
			allBinary = false
		}
	}
	switch {
	case allText:
		total := 0
		for _, c := range chunks {
			total += len(c.Data)
		}
		buf := make([]byte, 0, total)
		for _, c := range chunks {
			buf = append(buf, c.Data...)
		}
		_, err := w.Write(buf)
		return err
	case allBinary:
		total := 0
		for _, c := range chunks {
			total += len(c.Data)
		}
		buf := make([]byte, 0, total)
		for _, c := range chunks {
			buf = append(buf, c.Data...)
		}
		_, err := w.Write(buf)
		return err
	default:
		for _, c := range chunks {
			if _, err := w.Write(c.Data); err != nil {
				return err
			}
		}
		return nil
	}
}
