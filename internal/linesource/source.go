// Package linesource supplies ordered text lines from a running process to a
// dispatcher.
//
// A Source delivers lines on a channel that is closed when the underlying
// stream ends. Closing is the signal that the monitored process has gone
// away; dispatchers treat it as termination.
package linesource

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/Iron-Ham/logwait/internal/errors"
)

// Source is an ordered, unbounded sequence of lines from one process.
type Source interface {
	// Name identifies the source in logs and events ("stdout", a file path).
	Name() string

	// Lines returns the channel lines are delivered on. The channel is
	// closed when the stream ends or Stop is called.
	Lines() <-chan string

	// Err returns the read error that ended the stream, or nil if it ended
	// normally. It is only meaningful after Lines is closed.
	Err() error

	// Stop ends the stream. It is safe to call more than once.
	Stop() error
}

// DefaultMaxLineBytes is the longest line a ReaderSource accepts by default.
const DefaultMaxLineBytes = 1024 * 1024

// lineChanSize is the buffer between a reading goroutine and its consumer.
const lineChanSize = 256

// ReaderOption configures a ReaderSource.
type ReaderOption func(*ReaderSource)

// WithMaxLineBytes sets the longest line accepted. A longer line ends the
// stream with bufio.ErrTooLong.
func WithMaxLineBytes(n int) ReaderOption {
	return func(s *ReaderSource) {
		if n > 0 {
			s.maxLine = n
		}
	}
}

// WithRecorder copies every delivered line into buf.
func WithRecorder(buf *LineBuffer) ReaderOption {
	return func(s *ReaderSource) {
		s.recorder = buf
	}
}

// ReaderSource splits an io.Reader into lines. Trailing carriage returns are
// stripped so output captured from a terminal matches the same patterns as
// output captured from a pipe.
type ReaderSource struct {
	name     string
	r        io.Reader
	maxLine  int
	recorder *LineBuffer

	lines    chan string
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewReaderSource starts reading r in a background goroutine.
// If r is an io.Closer, Stop closes it to unblock a pending read.
func NewReaderSource(name string, r io.Reader, opts ...ReaderOption) *ReaderSource {
	s := &ReaderSource{
		name:    name,
		r:       r,
		maxLine: DefaultMaxLineBytes,
		lines:   make(chan string, lineChanSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s
}

func (s *ReaderSource) readLoop() {
	defer close(s.lines)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLine)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if s.recorder != nil {
			s.recorder.Add(line)
		}
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.done:
			// Errors caused by Stop closing the reader are not reported.
		default:
			s.setErr(errors.Wrapf(err, "reading %s", s.name))
		}
	}
}

func (s *ReaderSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Name returns the source name.
func (s *ReaderSource) Name() string { return s.name }

// Lines returns the line channel.
func (s *ReaderSource) Lines() <-chan string { return s.lines }

// Err returns the read error that ended the stream, if any.
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends the stream and closes the reader if it is closable.
func (s *ReaderSource) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// ChannelSource is a Source fed programmatically with Push.
type ChannelSource struct {
	name  string
	lines chan string
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewChannelSource returns a ChannelSource whose channel holds up to buffer
// lines before Push blocks.
func NewChannelSource(name string, buffer int) *ChannelSource {
	return &ChannelSource{
		name:  name,
		lines: make(chan string, buffer),
		done:  make(chan struct{}),
	}
}

// Push delivers line, blocking while the buffer is full. It reports false if
// the source was closed before the line was delivered.
func (s *ChannelSource) Push(line string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.lines <- line:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the stream. Blocked and further pushes are dropped; lines
// already buffered are still delivered.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	// lines is closed only once no Push can still send on it.
	s.inflight.Wait()
	close(s.lines)
}

// Name returns the source name.
func (s *ChannelSource) Name() string { return s.name }

// Lines returns the line channel.
func (s *ChannelSource) Lines() <-chan string { return s.lines }

// Err always returns nil.
func (s *ChannelSource) Err() error { return nil }

// Stop closes the source.
func (s *ChannelSource) Stop() error {
	s.Close()
	return nil
}
