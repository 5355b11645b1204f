//go:build windows

// Package stderr provides a no-op implementation for Windows.
package stderr

import (
	"io"
	"os"
	"sync"
)

// Capture is a no-op on Windows.
type Capture struct {
	lines chan string
	once  sync.Once
}

// Start returns a capture that never receives lines.
func Start() (*Capture, error) {
	c := &Capture{lines: make(chan string)}
	return c, nil
}

// Lines receives nothing and is closed after Stop.
func (c *Capture) Lines() <-chan string { return c.lines }

// Original returns os.Stderr.
func (c *Capture) Original() io.Writer { return os.Stderr }

// Stop closes Lines. It is safe to call more than once.
func (c *Capture) Stop() { c.once.Do(func() { close(c.lines) }) }
