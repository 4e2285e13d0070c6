package zkshare

import (
	"fmt"
	"os"
)

// To32 converts a slice to a 32 byte array for use with nacl/sign.Open.
func To32(bytes []byte) *[32]byte {
	var result [32]byte
	if copy(result[:], bytes) != 32 {
		panic(fmt.Errorf("attempted to create non-32 byte key"))
	}

	return &result
}

// To64 converts a slice to a 64 byte array for use with nacl/sign.
func To64(bytes []byte) *[64]byte {
	var result [64]byte
	if copy(result[:], bytes) != 64 {
		panic(fmt.Errorf("attempted to create non-64 byte key"))
	}

	return &result
}

// Exit prints the error and its user-facing description, then exits.
func Exit(code int, err error) {
	_, _ = fmt.Fprintln(os.Stderr, Describe(err))
	if msg := err.Error(); msg != Describe(err) {
		_, _ = fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}
