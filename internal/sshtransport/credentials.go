package sshtransport

import (
	"fmt"
	"strings"
)

// Credentials is a tagged record: either a password credential or a
// private-key credential (with an optional passphrase). Exactly one of
// Password or PrivateKey must be set.
type Credentials struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte
	Passphrase string
}

// Validate enforces the structural rules from the data model: port in
// range, non-empty trimmed strings, and exactly one auth form present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("missing host")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("missing username")
	}

	hasPassword := strings.TrimSpace(c.Password) != ""
	hasKey := len(c.PrivateKey) > 0

	switch {
	case hasPassword && hasKey:
		return fmt.Errorf("credentials specify both a password and a private key")
	case !hasPassword && !hasKey:
		return fmt.Errorf("missing password or private key")
	}

	return nil
}
