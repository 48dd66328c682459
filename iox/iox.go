// Package iox provides I/O helpers for resource cleanup and byte accounting.
package iox

import "io"

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup and b.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(conn))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Sync) where errors are unactionable:
//
//	defer iox.DiscardErr(f.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// CountWriter wraps a writer and counts bytes written through it.
// A nil inner writer counts without storing, which is how verify-only
// handlers account for discarded bytes.
type CountWriter struct {
	W io.Writer
	N int64
}

// Write implements io.Writer.
func (c *CountWriter) Write(p []byte) (int, error) {
	if c.W == nil {
		c.N += int64(len(p))
		return len(p), nil
	}
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}
