package auth

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b are equal. Both values are padded
// to the longer length before comparison and the length check is folded into
// the same constant-time result, so neither the position of the first
// mismatch nor a length difference changes the amount of work done.
func ConstantTimeEqual(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	x := make([]byte, n)
	y := make([]byte, n)
	copy(x, a)
	copy(y, b)

	same := subtle.ConstantTimeCompare(x, y)
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	return same&sameLen == 1
}
