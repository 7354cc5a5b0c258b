package orders

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildClientOrderID(t *testing.T) {
	id := BuildClientOrderID("1a2b3c4d-5e6f-7890-abcd-ef0123456789", 2)

	if len(id) > MaxClientOrderIDLength {
		t.Errorf("ID %q exceeds %d characters", id, MaxClientOrderIDLength)
	}
	if !strings.HasPrefix(id, "S15-1a2b3c4d-T2-") {
		t.Errorf("Unexpected ID format %q", id)
	}

	short, tranche, err := ParseClientOrderID(id)
	if err != nil {
		t.Fatalf("ParseClientOrderID failed: %v", err)
	}
	if short != "1a2b3c4d" || tranche != 2 {
		t.Errorf("Parsed (%q, %d), want (1a2b3c4d, 2)", short, tranche)
	}
}

func TestBuildClientOrderIDWithoutSignal(t *testing.T) {
	id := BuildClientOrderID("", 1)
	if !IsOurOrder(id) {
		t.Errorf("Signal-less ID should still parse, got %q", id)
	}
}

func TestClientOrderIDsAreUnique(t *testing.T) {
	a := BuildClientOrderID("sig", 1)
	b := BuildClientOrderID("sig", 1)
	if a == b {
		t.Errorf("Two IDs for the same tranche should differ, both %q", a)
	}
}

func TestParseClientOrderIDRejectsForeignIDs(t *testing.T) {
	for _, id := range []string{
		"",
		"web_abcdef",
		"S15-1a2b3c4d",
		"S15-1a2b3c4d-X1-9f3e",
		"S15-1a2b3c4d-Tx-9f3e",
		"OTH-1a2b3c4d-T1-9f3e",
	} {
		if _, _, err := ParseClientOrderID(id); !errors.Is(err, ErrInvalidClientOrderID) {
			t.Errorf("Expected ErrInvalidClientOrderID for %q, got %v", id, err)
		}
	}
	if IsOurOrder("web_abcdef") {
		t.Error("Foreign IDs are not ours")
	}
}
