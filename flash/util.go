package flash

import (
	"golang.org/x/exp/constraints"
)

// checksum will create a STM-compatible XOR-based checksum of the provided data
func checksum(bs []byte) byte {
	var s byte
	for _, b := range bs {
		s ^= b
	}
	return s
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// aligned reports whether v is a multiple of n
func aligned[T constraints.Unsigned](v, n T) bool {
	return v%n == 0
}

// alignUp rounds v up to the next multiple of n
func alignUp[T constraints.Integer](v, n T) T {
	return (v + n - 1) / n * n
}
