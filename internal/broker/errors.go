package broker

import "strings"

// Kind classifies a failure for client-facing messaging, mirroring the
// teacher's substring-classification approach (WrapContainerError,
// WrapErrorWithCode) rather than typed sentinel errors, since neither
// golang.org/x/crypto/ssh nor the stdlib net package exports sentinels for
// most of these conditions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRateLimited
	KindBusy
	KindNetworkRefused
	KindNetworkUnreachable
	KindTimeout
	KindAuth
	KindProtocol
	KindShell
	KindStream
	KindContainerCreate
)

// Classify inspects err's message and assigns it the best-matching Kind.
// Order matters: more specific substrings are checked before general ones.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "auth"):
		return KindAuth
	case strings.Contains(msg, "connection refused"):
		return KindNetworkRefused
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "no such host"), strings.Contains(msg, "host unreachable"):
		return KindNetworkUnreachable
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "ssh:"), strings.Contains(msg, "protocol"):
		return KindProtocol
	case strings.Contains(msg, "shell"), strings.Contains(msg, "pty"):
		return KindShell
	case strings.Contains(msg, "create container"), strings.Contains(msg, "container create"):
		return KindContainerCreate
	default:
		return KindStream
	}
}

// Message renders the client-facing text for kind, per the error taxonomy
// table. detail is appended where the taxonomy calls for it.
func Message(kind Kind, detail string) string {
	switch kind {
	case KindValidation:
		return detail
	case KindRateLimited:
		return "Too many connection attempts. Please wait before trying again."
	case KindBusy:
		return "Connection already in progress or established"
	case KindNetworkRefused:
		return "Connection refused - check host and port"
	case KindNetworkUnreachable:
		return "Host unreachable"
	case KindTimeout:
		return "Connection timeout"
	case KindAuth:
		return "Authentication failed - check username and password"
	case KindProtocol:
		return "Protocol error - incompatible SSH server"
	case KindShell:
		return "Shell error: " + detail
	case KindStream:
		return "Stream error: " + detail
	case KindContainerCreate:
		return "Failed to create container: " + detail
	default:
		return detail
	}
}

// ClassifiedMessage is a convenience combining Classify and Message for a
// raw error returned by the SSH transport or container pool.
func ClassifiedMessage(err error) string {
	if err == nil {
		return ""
	}

	return Message(Classify(err), err.Error())
}
