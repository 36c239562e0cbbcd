package peer

import (
	"context"
	"testing"
)

func TestLookupHostKeepsLiterals(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1", "203.0.113.9"} {
		got, err := lookupHost(context.Background(), host)
		if err != nil {
			t.Fatalf("lookupHost(%q): %v", host, err)
		}
		if got != host {
			t.Errorf("lookupHost(%q) = %q", host, got)
		}
	}
}
