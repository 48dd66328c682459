package handler

import "io"

// Cursor is the single shared read position into the package's artifact
// byte stream. It is owned by the Dispatcher and lent to the active handler
// for the duration of one invocation. The offset is monotonically
// non-decreasing: the underlying source is sequential and non-seekable, so
// bytes read through the cursor are gone.
type Cursor struct {
	r      io.Reader
	offset int64
}

// NewCursor wraps a sequential input source.
func NewCursor(r io.Reader) *Cursor {
	return &Cursor{r: r}
}

// Read implements io.Reader, advancing the offset by every byte read.
func (c *Cursor) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset += int64(n)
	return n, err
}

// Offset returns the current read offset into the package stream.
func (c *Cursor) Offset() int64 {
	return c.offset
}
