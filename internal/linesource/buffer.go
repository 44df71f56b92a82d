package linesource

import "sync"

// LineBuffer is a thread-safe ring of the most recent lines of a stream.
//
// When the ring is full each new line overwrites the oldest one:
//
//	cap 3:  add a, b, c  ->  [a b c]  start=0
//	        add d        ->  [d b c]  start=1, Lines() = [b c d]
//
// The monitor records process output here so a failed wait can show what
// the process printed last.
type LineBuffer struct {
	mu    sync.RWMutex
	lines []string
	start int
	count int
	total uint64
}

// NewLineBuffer returns a buffer holding up to size lines. A size below 1 is
// treated as 1.
func NewLineBuffer(size int) *LineBuffer {
	if size < 1 {
		size = 1
	}
	return &LineBuffer{lines: make([]string, size)}
}

// Add appends a line, evicting the oldest when the buffer is full.
func (b *LineBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.lines)
	if b.count < size {
		b.lines[(b.start+b.count)%size] = line
		b.count++
	} else {
		b.lines[b.start] = line
		b.start = (b.start + 1) % size
	}
	b.total++
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *LineBuffer) Lines() []string {
	return b.Last(-1)
}

// Last returns up to n of the most recent lines, oldest first.
// A negative n returns every buffered line.
func (b *LineBuffer) Last(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > b.count {
		n = b.count
	}
	out := make([]string, n)
	size := len(b.lines)
	skip := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(b.start+skip+i)%size]
	}
	return out
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *LineBuffer) Cap() int {
	return len(b.lines)
}

// Total returns the number of lines ever added, including evicted ones.
func (b *LineBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Reset discards all buffered lines. Total is not reset.
func (b *LineBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.start = 0
	b.count = 0
}
