package sshtransport

import "fmt"

// classifyDialError wraps a raw dial error with context. The broker's error
// taxonomy classifies the resulting message by substring, mirroring the
// teacher's WrapContainerError/WrapErrorWithCode approach: golang.org/x/crypto/ssh
// and the stdlib net package do not export typed sentinels for most of
// these conditions.
func classifyDialError(err error) error {
	return fmt.Errorf("ssh dial: %w", err)
}
