package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites b with zeros. Adapted from the teacher's own
// dr.wipe: //go:noinline plus runtime.KeepAlive keeps the compiler
// from proving the store dead and eliding it.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// ConstantTimeEquals reports whether a and b hold equal contents,
// running in time dependent only on len(a) (spec §8: "runs in time
// dependent only on len(a)"). Differing lengths are reported unequal
// without comparing contents, same as subtle.ConstantTimeCompare.
func ConstantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
