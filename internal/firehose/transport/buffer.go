// Package transport provides the bounded hand-off between the row producer of a shard and the store consuming it.
package transport

import (
	"io"
	"sync"
)

// DefaultCapacity is the capacity of a Buffer when none is configured.
const DefaultCapacity = 1 << 20

// Buffer is a fixed-capacity byte queue connecting exactly one writer to exactly one reader.
//
// Write blocks while the buffer is full and Read blocks while it is empty, so neither side can run ahead of the
// other by more than the capacity. Close ends the stream: the reader drains what is buffered and then sees io.EOF.
// CloseWithError aborts the stream: both sides fail immediately with the given error and buffered bytes are dropped.
type Buffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	data  []byte
	head  int // index of the next byte to read
	count int // number of buffered bytes

	closed bool
	err    error
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{data: make([]byte, capacity)}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Write copies p into the buffer, blocking whenever it is full. It returns once all of p has been buffered, or
// early with an error if the buffer is closed or aborted in the meantime.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(p) {
		for b.count == len(b.data) && b.err == nil && !b.closed {
			b.notFull.Wait()
		}
		if b.err != nil {
			return written, b.err
		}
		if b.closed {
			return written, io.ErrClosedPipe
		}
		tail := (b.head + b.count) % len(b.data)
		end := len(b.data)
		if tail < b.head {
			end = b.head
		}
		n := copy(b.data[tail:end], p[written:])
		b.count += n
		written += n
		b.notEmpty.Signal()
	}
	return written, nil
}

// Read reads up to len(p) buffered bytes, blocking while the buffer is empty.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && b.err == nil && !b.closed {
		b.notEmpty.Wait()
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.count == 0 {
		return 0, io.EOF
	}
	end := b.head + b.count
	if end > len(b.data) {
		end = len(b.data)
	}
	n := copy(p, b.data[b.head:end])
	b.head = (b.head + n) % len(b.data)
	b.count -= n
	if b.count == 0 {
		b.head = 0
	}
	b.notFull.Signal()
	return n, nil
}

// Close marks the end of the stream. The reader receives io.EOF once the buffered bytes have been read.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	return nil
}

// CloseWithError aborts the stream. Blocked and subsequent calls to Read and Write return err.
// Only the first error is kept. A nil err is treated as io.ErrClosedPipe.
func (b *Buffer) CloseWithError(err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}
