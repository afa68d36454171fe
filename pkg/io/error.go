package io

import "fmt"

// InsufficientBufferError is returned when a read buffer can't hold a whole
// packet. RequiredSize is the length needed.
type InsufficientBufferError struct {
	RequiredSize int
}

func (e *InsufficientBufferError) Error() string {
	return fmt.Sprintf("io: buffer too short, %d bytes required", e.RequiredSize)
}
