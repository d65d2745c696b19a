package sshtransport

import "testing"

func TestCredentials_Validate(t *testing.T) {
	base := Credentials{Host: "127.0.0.1", Port: 22, Username: "root", Password: "x"}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid credentials, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(c Credentials) Credentials
	}{
		{"missing host", func(c Credentials) Credentials { c.Host = "  "; return c }},
		{"invalid port low", func(c Credentials) Credentials { c.Port = 0; return c }},
		{"invalid port high", func(c Credentials) Credentials { c.Port = 70000; return c }},
		{"missing username", func(c Credentials) Credentials { c.Username = ""; return c }},
		{"both password and key", func(c Credentials) Credentials { c.PrivateKey = []byte("x"); return c }},
		{"neither password nor key", func(c Credentials) Credentials { c.Password = ""; return c }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.mut(base)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCredentials_PrivateKeyOnlyIsValid(t *testing.T) {
	c := Credentials{Host: "h", Port: 22, Username: "root", PrivateKey: []byte("key-bytes")}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid credentials, got %v", err)
	}
}
