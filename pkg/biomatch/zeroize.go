package biomatch

import "runtime"

// ZeroizeBytes overwrites buf with zeros and prevents compiler dead store
// elimination using runtime.KeepAlive.
//
// Go's garbage collector can still have copied the data, so this is best
// effort rather than a guarantee; it is applied to serialized secret-key
// blobs at the wire boundary once they have been handed to their owner.
func ZeroizeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	// Prevent dead store elimination per golang/go#33325
	runtime.KeepAlive(buf)
}
