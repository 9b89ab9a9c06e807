package tee

import "testing"

func TestSimulateReportIsDeterministicPerBox(t *testing.T) {
	nonce := make([]byte, ReportDataSize)
	for i := range nonce {
		nonce[i] = byte(i)
	}

	r1 := SimulateReport("box-a", nonce)
	r2 := SimulateReport("box-a", nonce)
	if !MeasurementEquals(r1.Measurement, r2.Measurement) {
		t.Fatal("expected identical measurement for the same box ID")
	}
	if !MeasurementEquals(r1.ChipID, r2.ChipID) {
		t.Fatal("expected identical chip id for the same box ID")
	}

	r3 := SimulateReport("box-b", nonce)
	if MeasurementEquals(r1.Measurement, r3.Measurement) {
		t.Fatal("expected different measurement for a different box ID")
	}
}

func TestSimulateReportEchoesNonce(t *testing.T) {
	nonce := make([]byte, ReportDataSize)
	nonce[0] = 0xAB
	r := SimulateReport("box-a", nonce)
	if r.ReportData[0] != 0xAB {
		t.Fatal("expected report data to echo the nonce")
	}
}

func TestReportMarshalRoundTrips(t *testing.T) {
	nonce := make([]byte, ReportDataSize)
	r := SimulateReport("box-a", nonce)

	blob, err := r.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Report
	if err := got.UnmarshalBinary(blob); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !MeasurementEquals(got.Measurement, r.Measurement) {
		t.Fatal("measurement did not round-trip")
	}
	if got.TCB != r.TCB {
		t.Fatalf("tcb did not round-trip: got %+v want %+v", got.TCB, r.TCB)
	}
}

func TestVerifySimulatedDetectsTampering(t *testing.T) {
	r := SimulateReport("box-a", make([]byte, ReportDataSize))
	if !VerifySimulated("box-a", r) {
		t.Fatal("expected genuine simulated report to verify")
	}

	tampered := r
	tampered.Measurement = append([]byte{}, r.Measurement...)
	tampered.Measurement[0] ^= 0xFF
	if VerifySimulated("box-a", tampered) {
		t.Fatal("expected tampered measurement to fail verification")
	}
}

func TestTCBVersionAtLeast(t *testing.T) {
	v := TCBVersion{BootLoader: 3, TEE: 0, SNP: 8, Microcode: 115}
	if !v.AtLeast(TCBVersion{BootLoader: 2, TEE: 0, SNP: 8, Microcode: 100}) {
		t.Fatal("expected v to satisfy a lower minimum")
	}
	if v.AtLeast(TCBVersion{BootLoader: 4}) {
		t.Fatal("expected v to fail a higher minimum")
	}
}
