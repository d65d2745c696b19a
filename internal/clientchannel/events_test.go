package clientchannel

import "testing"

func TestNormalizeReason_MapsLegacyAliasOnly(t *testing.T) {
	if got := normalizeReason(ReasonManualDisconnect); got != ReasonUserDisconnect {
		t.Fatalf("expected %s, got %s", ReasonUserDisconnect, got)
	}

	for _, canonical := range []string{
		ReasonUserDisconnect, ReasonClientDisconnect, ReasonStreamClosed,
		ReasonConnectionClosed, ReasonConnectionEnded, ReasonIdleTimeout,
		ReasonInactive, ReasonForceDisconnect, ReasonServerShutdown, ReasonEndSession,
	} {
		if got := normalizeReason(canonical); got != canonical {
			t.Fatalf("canonical reason %s should pass through unchanged, got %s", canonical, got)
		}
	}
}
