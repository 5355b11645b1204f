//go:build !windows

// Package stderr captures output that C libraries (ALSA, faad2) write
// directly to file descriptor 2, bypassing Go's os.Stderr.
package stderr

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Capture redirects file descriptor 2 into a pipe until Stop is called.
type Capture struct {
	read  *os.File
	write *os.File
	lines chan string

	// mu guards orig, which is nil once Stop restored fd 2.
	mu   sync.RWMutex
	orig *os.File
}

// Start begins capturing stderr. Call it before any C library is
// initialized; on error nothing is redirected.
func Start() (*Capture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	fd, err := unix.Dup(unix.Stderr)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := unix.Dup2(int(w.Fd()), unix.Stderr); err != nil {
		unix.Close(fd)
		r.Close()
		w.Close()
		return nil, err
	}

	c := &Capture{
		orig:  os.NewFile(uintptr(fd), "stderr"),
		read:  r,
		write: w,
		lines: make(chan string, 100),
	}
	go c.scan()
	return c, nil
}

func (c *Capture) scan() {
	defer close(c.lines)
	defer c.read.Close()
	scanner := bufio.NewScanner(c.read)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		default:
			// Drop rather than block the writer.
		}
	}
}

// Lines receives captured lines. It is closed after Stop.
func (c *Capture) Lines() <-chan string { return c.lines }

// Original returns a writer to the stderr in place before Start. After Stop
// it writes to the restored stderr.
func (c *Capture) Original() io.Writer { return original{c} }

type original struct{ c *Capture }

func (o original) Write(p []byte) (int, error) {
	o.c.mu.RLock()
	defer o.c.mu.RUnlock()
	if o.c.orig == nil {
		return os.Stderr.Write(p)
	}
	return o.c.orig.Write(p)
}

// Stop restores the original stderr. It is safe to call more than once.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orig == nil {
		return
	}
	_ = unix.Dup2(int(c.orig.Fd()), unix.Stderr)
	c.orig.Close()
	c.orig = nil
	// fd 2 no longer refers to the pipe, so this is the last writer.
	c.write.Close()
}
