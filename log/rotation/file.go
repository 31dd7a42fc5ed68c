// Package rotation writes log output to a file that is rotated
// once it reaches a size limit.
package rotation

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"sync"
)

// A File is a log file with rotation files named after the base
// file with a numeric suffix: base.1, base.2, and so on.
// Only complete lines reach the base file. When a write would take
// the base file past its size limit, base.i is renamed to base.i+1,
// base becomes base.1 and a fresh base file is opened.
//
// Errors while renaming are ignored; errors opening or writing the
// base file are reported.
type File struct {
	base string
	size int64
	n    int

	mu  sync.Mutex // protects the following
	buf []byte     // partial line from last write
	f   *os.File
	w   int64 // bytes written to f
}

// Create returns a File writing to name, appending if it exists,
// keeping at most n rotated files (at least 1) of size bytes each.
func Create(name string, size, n int) *File {
	if n < 1 {
		n = 1
	}
	return &File{base: name, size: int64(size), n: n}
}

var dropmsg = []byte("\nlog write error; some data dropped\n")

// Write buffers p and writes every complete line to the base file.
func (f *File) Write(p []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = append(f.buf, p...)
	n = len(p)
	if i := bytes.LastIndexByte(f.buf, '\n'); i >= 0 {
		_, err = f.write(f.buf[:i+1])
		// Drop the payload even on failure so an unwritable file
		// cannot make the buffer grow without bound.
		f.buf = f.buf[i+1:]
		if err != nil {
			f.buf = append(dropmsg, f.buf...)
		}
	}
	return n, err
}

// Close flushes nothing; partial lines still buffered are discarded.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

func (f *File) write(p []byte) (int, error) {
	if f.f != nil && f.w+int64(len(p)) > f.size {
		f.rotate()
		f.f.Close()
		f.f = nil
		f.w = 0
	}
	if f.f == nil {
		var err error
		f.f, err = os.OpenFile(f.base, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644) // #nosec
		if err != nil {
			return 0, err
		}
		f.w, err = f.f.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
	}
	n, err := f.f.Write(p)
	f.w += int64(n)
	return n, err
}

func (f *File) rotate() {
	for i := f.n - 1; i > 0; i-- {
		os.Rename(f.name(i), f.name(i+1))
	}
	os.Rename(f.base, f.name(1))
}

func (f *File) name(i int) string {
	return f.base + "." + strconv.Itoa(i)
}
