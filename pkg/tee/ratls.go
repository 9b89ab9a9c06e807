package tee

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"time"

	"github.com/a3s-box/box/pkg/errs"
)

// reportExtensionOID tags the X.509 extension that carries a
// MarshalBinary-encoded Report inside an RA-TLS certificate. Under
// AMD's own arc this would be a vendor OID from their PKI; a
// private-use arc is fine here since this module never interoperates
// with AMD's literal wire format, only the report semantics it names.
var reportExtensionOID = asn1.ObjectIdentifier{1, 3, 9999, 1, 1}

// raTLSValidity is deliberately short: an RA-TLS certificate is
// minted fresh for one attestation-backed connection, not reused
// across a box's lifetime the way a node's mTLS certificate is in
// cuemby-warren/pkg/security/ca.go.
const raTLSValidity = 10 * time.Minute

// IssueCertificate mints an ephemeral, self-signed TLS certificate
// whose sole purpose is to carry report as a custom extension, the
// RA-TLS server certificate spec.md §4.8 describes ("a TLS connection
// whose server certificate carries the attestation report").
//
// Grounded on ca.go's Initialize(), which self-signs a root
// certificate via x509.CreateCertificate; generalized from "one
// long-lived cluster root" to "one short-lived cert per attestation",
// and from RSA to ECDSA P-256 since there is no need for
// cross-signature compatibility with an external root here.
func IssueCertificate(report Report) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errs.New(errs.KindInternal, "tee.ratls.issue", "", err)
	}

	reportBytes, err := report.MarshalBinary()
	if err != nil {
		return tls.Certificate{}, errs.New(errs.KindInternal, "tee.ratls.issue", "", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "a3s-box-ra-tls"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(raTLSValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		ExtraExtensions: []pkix.Extension{
			{Id: reportExtensionOID, Critical: false, Value: reportBytes},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, errs.New(errs.KindInternal, "tee.ratls.issue", "", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// ExtractReport pulls the embedded Report out of an RA-TLS
// certificate's extension, or ok=false if cert carries none.
func ExtractReport(cert *x509.Certificate) (Report, bool) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(reportExtensionOID) {
			continue
		}
		var r Report
		if err := r.UnmarshalBinary(ext.Value); err != nil {
			return Report{}, false
		}
		return r, true
	}
	return Report{}, false
}

// ChainVerifier resolves and verifies the VCEK→ASK→ARK chain for a
// report, returning an error if the chain cannot be validated. The
// caller supplies this (backed by Cache and a key distribution client)
// so ServerConfig/ClientConfig stay independent of how chains are
// fetched.
type ChainVerifier func(Report) error

// ServerConfig builds the tls.Config a box's control plane serves
// RA-TLS connections with: cert embeds the attestation report, no
// client certificate is requested (the guest is the side being
// attested, not the host).
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientConfig builds the tls.Config the host dials an RA-TLS
// connection with: standard certificate verification is skipped
// (these certs are ephemeral and self-signed by design) in favor of a
// VerifyPeerCertificate callback that extracts the embedded report,
// verifies its key chain, and evaluates policy before the handshake
// completes.
//
// Grounded on cuemby-warren/pkg/security/certs.go's mTLS tls.Config
// construction style, generalized from "trust the cluster CA" to
// "trust whatever chain and policy evaluation VerifyPeerCertificate
// performs".
func ClientConfig(policy Policy, verify ChainVerifier) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // verified by VerifyPeerCertificate below
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("tee: ra-tls peer presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			report, ok := ExtractReport(cert)
			if !ok {
				return errors.New("tee: ra-tls certificate carries no attestation report")
			}
			if verify != nil {
				if err := verify(report); err != nil {
					return err
				}
			}
			return policy.Evaluate(report)
		},
	}
}
