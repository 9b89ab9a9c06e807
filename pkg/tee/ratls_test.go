package tee

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
)

func TestIssueCertificateEmbedsReport(t *testing.T) {
	report := SimulateReport("box-a", make([]byte, ReportDataSize))
	cert, err := IssueCertificate(report)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	got, ok := ExtractReport(parsed)
	if !ok {
		t.Fatal("expected certificate to carry an embedded report")
	}
	if !MeasurementEquals(got.Measurement, report.Measurement) {
		t.Fatal("extracted report measurement did not match original")
	}
}

func TestExtractReportFailsWithoutExtension(t *testing.T) {
	report := SimulateReport("box-a", make([]byte, ReportDataSize))
	cert, err := IssueCertificate(report)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}
	parsed, _ := x509.ParseCertificate(cert.Certificate[0])
	parsed.Extensions = nil

	if _, ok := ExtractReport(parsed); ok {
		t.Fatal("expected no report to be found once extensions are stripped")
	}
}

func TestClientConfigRejectsPolicyViolation(t *testing.T) {
	report := SimulateReport("box-a", make([]byte, ReportDataSize))
	report.Policy.Debug = true
	cert, err := IssueCertificate(report)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	cfg := ClientConfig(Policy{RequireDebugFalse: true}, nil)
	err = cfg.VerifyPeerCertificate([][]byte{cert.Certificate[0]}, nil)
	if err == nil {
		t.Fatal("expected a debug-mode report to fail policy evaluation")
	}
}

func TestClientConfigAcceptsValidReport(t *testing.T) {
	report := SimulateReport("box-a", make([]byte, ReportDataSize))
	cert, err := IssueCertificate(report)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	cfg := ClientConfig(Policy{RequireDebugFalse: true}, nil)
	if err := cfg.VerifyPeerCertificate([][]byte{cert.Certificate[0]}, nil); err != nil {
		t.Fatalf("expected valid report to pass: %v", err)
	}
}

func TestServerConfigCarriesCertificate(t *testing.T) {
	report := SimulateReport("box-a", make([]byte, ReportDataSize))
	cert, err := IssueCertificate(report)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	cfg := ServerConfig(cert)
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatal("expected TLS 1.3 minimum")
	}
}
