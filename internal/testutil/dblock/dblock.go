// Package dblock serializes test packages that share the same database.
// Go runs test binaries for different packages in parallel; the service and
// api suites truncate the same tables, so only one may run at a time.
package dblock

import (
	"net"
	"time"
)

// The listener doubles as a cross-process mutex: whichever test binary binds
// the port first holds the lock until it closes the listener.
const lockAddr = "127.0.0.1:45433"

func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
