// Package auth implements trivial host/user/password validation for
// accepted credentials, as a pluggable, named-strategy registry rather than
// inlined logic.
package auth

import (
	"fmt"

	"github.com/webshell/broker/internal/sshtransport"
)

// CredentialValidator decides whether a session is allowed to attempt a
// connection with the given credentials. It runs before the broker dials
// SSH, and is consulted in addition to (not instead of) Credentials.Validate's
// structural checks.
type CredentialValidator interface {
	// ValidateCredentials returns an error if the credentials are rejected
	// on policy grounds (for example: a disallowed host or username).
	ValidateCredentials(creds sshtransport.Credentials) error
}

// Config selects a named strategy and carries its string-keyed parameters,
// loadable straight out of toml.
type Config struct {
	Name   string            `toml:"name"`
	Params map[string]string `toml:"params"`
}

type factoryFunc func(params map[string]string) CredentialValidator

var factories = make(map[string]factoryFunc)

// Register adds a named validator factory. Panics on duplicate
// registration.
func Register(name string, factory factoryFunc) {
	if _, exists := factories[name]; exists {
		panic("credential validator already registered: " + name)
	}

	factories[name] = factory
}

// New builds the validator named by cfg.Name. Returns an error if no such
// validator was registered.
func New(cfg Config) (CredentialValidator, error) {
	factory, exists := factories[cfg.Name]
	if !exists {
		return nil, fmt.Errorf("credential validator not found: %s", cfg.Name)
	}

	return factory(cfg.Params), nil
}

func init() {
	Register("trivial", func(params map[string]string) CredentialValidator {
		return NewTrivialValidator(params)
	})
}
