// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size FFT frames
and sample buffers. Every function is branch-light, lock-free and never
allocates, so it is safe to call from the audio callback.

Usage:

	// Round a requested analyser size up to a valid FFT size
	size := bitint.NextPowerOfTwo(1000) // 1024

	// Reject configured sizes the FFT cannot use
	ok := bitint.IsPowerOfTwo(size)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size. Sizes below 1
// return 1.
//
// The size-1 keeps exact powers of 2 unchanged: for 8, bits.Len(7) is 3
// and 1<<3 is 8, while bits.Len(8) would give 16.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. A power of 2 has
// a single bit set, so n&(n-1) clears it to zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
