package linesource

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how often a FileSource re-checks its file when no
// filesystem event arrives. Some filesystems (network mounts, some container
// overlays) never deliver write events.
const DefaultPollInterval = 250 * time.Millisecond

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// FromStart makes the source deliver the file's existing contents before
// following new writes. By default only lines written after the source is
// created are delivered.
func FromStart() FileOption {
	return func(s *FileSource) { s.fromStart = true }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) FileOption {
	return func(s *FileSource) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithFileLogger sets the logger used for watcher diagnostics.
func WithFileLogger(l *logging.Logger) FileOption {
	return func(s *FileSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// FileSource follows a growing log file like tail -f. It watches the file's
// directory with fsnotify so that the file may be created after the source,
// removed and recreated by log rotation, or truncated in place.
//
// A FileSource never ends on its own; its stream ends only when Stop is
// called or the watcher fails.
type FileSource struct {
	path         string
	fromStart    bool
	pollInterval time.Duration
	logger       *logging.Logger

	watcher *fsnotify.Watcher
	lines   chan string
	done    chan struct{}
	stopped sync.Once
	exited  chan struct{}

	// Owned by the follow goroutine.
	file    *os.File
	offset  int64
	partial []byte

	mu  sync.Mutex
	err error
}

// NewFileSource starts following path. The file does not need to exist yet,
// but its directory does.
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	s := &FileSource{
		path:         filepath.Clean(path),
		pollInterval: DefaultPollInterval,
		logger:       logging.NopLogger(),
		lines:        make(chan string, lineChanSize),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("filesource").With("path", s.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(s.path))
	}
	s.watcher = watcher

	if err := s.openFile(!s.fromStart); err != nil && !os.IsNotExist(err) {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to open %s", s.path)
	}

	go s.followLoop()
	return s, nil
}

// openFile opens the followed file, optionally positioned at its end.
func (s *FileSource) openFile(atEnd bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	var offset int64
	if atEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return err
		}
	}
	s.file = f
	s.offset = offset
	s.partial = s.partial[:0]
	return nil
}

func (s *FileSource) closeFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.offset = 0
	s.partial = s.partial[:0]
}

func (s *FileSource) followLoop() {
	defer close(s.exited)
	defer close(s.lines)
	defer s.closeFile()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	if !s.drain() {
		return
	}

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				s.logger.Debug("followed file moved away", "op", ev.Op.String())
				// Deliver what was written before the file went away.
				if !s.drain() {
					return
				}
				s.closeFile()
			case ev.Op&fsnotify.Create != 0:
				s.closeFile()
				if !s.drain() {
					return
				}
			case ev.Op&fsnotify.Write != 0:
				if !s.drain() {
					return
				}
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("file watcher failed", "error", err.Error())
			s.setErr(errors.Wrapf(err, "watching %s", s.path))
			return

		case <-ticker.C:
			if !s.drain() {
				return
			}
		}
	}
}

// drain reads everything currently available and delivers complete lines.
// It returns false if the source was stopped while delivering.
func (s *FileSource) drain() bool {
	if s.file == nil {
		// A file created after the source started is read from the start.
		if err := s.openFile(false); err != nil {
			return true
		}
		s.logger.Debug("opened followed file")
	}

	if info, err := s.file.Stat(); err == nil && info.Size() < s.offset {
		s.logger.Info("followed file truncated", "old_offset", s.offset, "new_size", info.Size())
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			s.closeFile()
			return true
		}
		s.offset = 0
		s.partial = s.partial[:0]
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := s.file.Read(buf)
		if n > 0 {
			s.offset += int64(n)
			s.partial = append(s.partial, buf[:n]...)
			if !s.emitComplete() {
				return false
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("read failed", "error", err.Error())
			}
			return true
		}
	}
}

// emitComplete sends every newline-terminated line held in partial.
func (s *FileSource) emitComplete() bool {
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			return true
		}
		line := strings.TrimSuffix(string(s.partial[:i]), "\r")
		s.partial = s.partial[i+1:]
		select {
		case s.lines <- line:
		case <-s.done:
			return false
		}
	}
}

func (s *FileSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Name returns the followed path.
func (s *FileSource) Name() string { return s.path }

// Lines returns the line channel.
func (s *FileSource) Lines() <-chan string { return s.lines }

// Err returns the watcher error that ended the stream, if any.
func (s *FileSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends the stream, waits for the follow goroutine and closes the
// watcher. A trailing line without a newline is not delivered.
func (s *FileSource) Stop() error {
	var err error
	s.stopped.Do(func() {
		close(s.done)
		<-s.exited
		err = s.watcher.Close()
	})
	return err
}
