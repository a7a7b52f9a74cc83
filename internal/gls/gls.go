// Package gls gives a worker goroutine a thread-local-like slot. Go has no
// native TLS; each worker permanently parks its goroutine on one locked OS
// thread for its lifetime (worker.Worker.run calls runtime.LockOSThread),
// so keying a side table by goroutine id reproduces the "set on thread
// entry, cleared on exit" semantics spec §4.F requires for
// Worker::current().
package gls

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var (
	mu    sync.RWMutex
	slots = make(map[int64]any)
)

// goroutineID extracts the calling goroutine's id by parsing the header
// line of runtime.Stack's output ("goroutine 123 [running]: ..."). This is
// the well-known (if inelegant) technique for goroutine-local storage in
// Go; it is only ever used here to key the current-worker slot, never for
// control flow that could be confused by goroutine reuse, since a worker's
// goroutine never exits until shutdown.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}

	id, _ := strconv.ParseInt(string(buf), 10, 64)

	return id
}

// Set stores v for the calling goroutine.
func Set(v any) {
	id := goroutineID()

	mu.Lock()
	defer mu.Unlock()
	slots[id] = v
}

// Clear removes the calling goroutine's slot.
func Clear() {
	id := goroutineID()

	mu.Lock()
	defer mu.Unlock()
	delete(slots, id)
}

// Get returns the calling goroutine's slot, or nil if unset.
func Get() any {
	id := goroutineID()

	mu.RLock()
	defer mu.RUnlock()

	return slots[id]
}
