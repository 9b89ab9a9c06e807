package tee

import (
	"testing"

	"github.com/a3s-box/box/pkg/types"
)

func TestSealUnsealRoundTrips(t *testing.T) {
	identity := SimulateReport("box-a", make([]byte, ReportDataSize))
	plaintext := []byte("top secret database password")

	blob, err := Seal(types.SealPolicyMeasurementAndChip, identity, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Unseal(identity, blob)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestUnsealRejectsWrongIdentity(t *testing.T) {
	identity := SimulateReport("box-a", make([]byte, ReportDataSize))
	other := SimulateReport("box-b", make([]byte, ReportDataSize))

	blob, err := Seal(types.SealPolicyMeasurementAndChip, identity, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Unseal(other, blob); err == nil {
		t.Fatal("expected unseal under a different identity to fail")
	}
}

func TestSealMeasurementOnlyPolicyIgnoresChipID(t *testing.T) {
	identity := SimulateReport("box-a", make([]byte, ReportDataSize))
	blob, err := Seal(types.SealPolicyMeasurementOnly, identity, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// A report sharing the same measurement but a different chip ID
	// (e.g. the box migrated to different hardware) still unseals
	// under a measurement-only policy.
	sameMeasurementDifferentChip := identity
	sameMeasurementDifferentChip.ChipID = SimulateReport("box-b", nil).ChipID

	got, err := Unseal(sameMeasurementDifferentChip, blob)
	if err != nil {
		t.Fatalf("expected measurement-only unseal to succeed across chips: %v", err)
	}
	if string(got) != "secret" {
		t.Fatalf("got %q", got)
	}
}

func TestUnsealRejectsCorruptBlob(t *testing.T) {
	identity := SimulateReport("box-a", make([]byte, ReportDataSize))
	blob, err := Seal(types.SealPolicyChipOnly, identity, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	corrupt := append([]byte{}, blob...)
	corrupt[len(corrupt)-1] ^= 0xFF

	if _, err := Unseal(identity, corrupt); err == nil {
		t.Fatal("expected corrupted envelope to fail to unseal")
	}
}
