package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	logFileBufferSize    = 16 * 1024
	logFileFlushInterval = 2 * time.Second
	logDirPermissions    = 0o700
)

// LogFile is an append-only log file behind a write buffer. A background
// goroutine flushes the buffer every flush interval until Close.
type LogFile struct {
	mu   sync.Mutex
	file afero.File
	buf  *bufio.Writer

	stop chan struct{}
	done chan struct{}
}

// OpenLogFile opens path on fs for appending, creating missing parent
// directories. A non-positive flushEvery disables the background flush.
func OpenLogFile(fs afero.Fs, path string, flushEvery time.Duration) (*LogFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, logDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	lf := &LogFile{
		file: file,
		buf:  bufio.NewWriterSize(file, logFileBufferSize),
	}
	if flushEvery > 0 {
		lf.stop = make(chan struct{})
		lf.done = make(chan struct{})
		go lf.flushLoop(flushEvery)
	}
	return lf, nil
}

func (lf *LogFile) flushLoop(every time.Duration) {
	defer close(lf.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-lf.stop:
			return
		case <-ticker.C:
			// A failed flush resurfaces on the next Write.
			_ = lf.Flush()
		}
	}
}

func (lf *LogFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.buf == nil {
		return 0, errors.New("log file is closed")
	}
	return lf.buf.Write(p)
}

// Flush hands buffered records to the operating system.
func (lf *LogFile) Flush() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.buf == nil {
		return nil
	}
	return lf.buf.Flush()
}

// Close flushes, syncs and closes the file. Repeated calls are no-ops.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	if lf.buf == nil {
		lf.mu.Unlock()
		return nil
	}
	stop := lf.stop
	lf.stop = nil
	lf.mu.Unlock()

	if stop != nil {
		close(stop)
		<-lf.done
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()
	err := errors.Join(lf.buf.Flush(), lf.file.Sync(), lf.file.Close())
	lf.buf, lf.file = nil, nil
	return err
}
