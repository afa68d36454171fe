// Package io holds the buffers between a session and its pipeline endpoints.
package io

// Copy copies all of src into dst. When dst is too short nothing is copied and
// an *InsufficientBufferError carrying len(src) is returned.
func Copy(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, &InsufficientBufferError{RequiredSize: len(src)}
	}
	return copy(dst, src), nil
}

// Grow returns buf when it can hold n bytes and a new buffer of n bytes
// otherwise.
func Grow(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}
