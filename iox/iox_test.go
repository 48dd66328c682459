package iox

import (
	"bytes"
	"errors"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCountWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &CountWriter{W: &buf}

	if _, err := cw.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := cw.Write([]byte("world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if cw.N != 11 {
		t.Errorf("N = %d, want 11", cw.N)
	}
	if buf.String() != "hello world" {
		t.Errorf("buffer = %q, want %q", buf.String(), "hello world")
	}
}

func TestCountWriterNilInner(t *testing.T) {
	cw := &CountWriter{}
	n, err := cw.Write(make([]byte, 512))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 512 || cw.N != 512 {
		t.Errorf("n = %d, N = %d, want 512 both", n, cw.N)
	}
}
