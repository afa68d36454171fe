package mediabridge

import "strconv"

// midAllocator hands out numeric mids in ascending order. A value is never
// handed out twice, even when the binding it was proposed for is rolled
// back or removed.
type midAllocator struct {
	next int
}

func (a *midAllocator) allocate() string {
	mid := strconv.Itoa(a.next)
	a.next++
	return mid
}

// observe moves the allocator past a numeric mid chosen by the remote peer.
func (a *midAllocator) observe(mid string) {
	n, err := strconv.Atoi(mid)
	if err != nil || n < 0 || strconv.Itoa(n) != mid {
		return
	}
	if n >= a.next {
		a.next = n + 1
	}
}
