// Package keystore encrypts and stores the sr25519 seed backing a
// KeypairSigner.
package keystore

import "runtime"

// ClearBytes securely zeros a byte slice so sensitive data (seeds, derived
// keys) does not linger in memory. runtime.KeepAlive prevents the compiler
// from eliminating the zeroing as dead code.
func ClearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
