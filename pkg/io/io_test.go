package io

import (
	"errors"
	"testing"
)

func TestCopy(t *testing.T) {
	src := []byte{1, 2, 3, 4}

	n, err := Copy(make([]byte, 2), src)
	var e *InsufficientBufferError
	if !errors.As(err, &e) {
		t.Fatalf("expected an InsufficientBufferError, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing to be copied, got %d bytes", n)
	}
	if e.RequiredSize != len(src) {
		t.Fatalf("expected required size %d, got %d", len(src), e.RequiredSize)
	}

	dst := Grow(nil, e.RequiredSize)
	n, err = Copy(dst, src)
	if err != nil {
		t.Fatalf("unexpected error after growing the buffer: %v", err)
	}
	if n != len(src) || string(dst[:n]) != string(src) {
		t.Errorf("expected %v, got %v", src, dst[:n])
	}
}

func TestGrow(t *testing.T) {
	buf := make([]byte, 2, 8)
	if got := Grow(buf, 6); cap(got) != 8 || len(got) != 6 {
		t.Errorf("expected the buffer to be reused, got len %d cap %d", len(got), cap(got))
	}
	if got := Grow(buf, 9); len(got) != 9 {
		t.Errorf("expected a buffer of 9 bytes, got %d", len(got))
	}
}
