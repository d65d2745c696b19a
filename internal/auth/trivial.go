package auth

import (
	"fmt"
	"strings"

	"github.com/webshell/broker/internal/sshtransport"
)

// trivialValidator performs trivial host/user/password validation:
// structural correctness is already enforced by Credentials.Validate; this
// adds an optional allowlist on host and username, configured via toml
// params. Empty allowlists accept anything.
type trivialValidator struct {
	allowedHosts []string
	allowedUsers []string
}

// NewTrivialValidator builds the default validator. Recognized params:
// "allowedHosts" and "allowedUsers", each a comma-separated list.
func NewTrivialValidator(params map[string]string) *trivialValidator {
	return &trivialValidator{
		allowedHosts: splitCSV(params["allowedHosts"]),
		allowedUsers: splitCSV(params["allowedUsers"]),
	}
}

func (v *trivialValidator) ValidateCredentials(creds sshtransport.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	if len(v.allowedHosts) > 0 && !contains(v.allowedHosts, creds.Host) {
		return fmt.Errorf("host %q is not permitted", creds.Host)
	}

	if len(v.allowedUsers) > 0 && !contains(v.allowedUsers, creds.Username) {
		return fmt.Errorf("username %q is not permitted", creds.Username)
	}

	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}
