package tee

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func selfSigned(t *testing.T, cn string, isCA bool) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

func signedBy(t *testing.T, cn string, isCA bool, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

func buildChain(t *testing.T) KeyChain {
	t.Helper()
	ark, arkKey := selfSigned(t, "ARK", true)
	ask, askKey := signedBy(t, "ASK", true, ark, arkKey)
	vcek, _ := signedBy(t, "VCEK", false, ask, askKey)
	return KeyChain{ARK: ark, ASK: ask, VCEK: vcek}
}

func TestKeyChainVerifySucceedsForValidChain(t *testing.T) {
	kc := buildChain(t)
	if err := kc.Verify(); err != nil {
		t.Fatalf("expected valid chain to verify: %v", err)
	}
}

func TestKeyChainVerifyRejectsWrongRoot(t *testing.T) {
	kc := buildChain(t)
	otherRoot, _ := selfSigned(t, "other-ARK", true)
	kc.ARK = otherRoot

	if err := kc.Verify(); err == nil {
		t.Fatal("expected chain rooted at the wrong ARK to fail verification")
	}
}

func TestKeyChainVerifyRejectsIncompleteChain(t *testing.T) {
	kc := buildChain(t)
	kc.ASK = nil
	if err := kc.Verify(); err == nil {
		t.Fatal("expected incomplete chain to fail verification")
	}
}

func TestCacheGetPutRoundTrips(t *testing.T) {
	kc := buildChain(t)
	c := NewCache(time.Hour)

	chipID := []byte("chip-1")
	if _, ok := c.Get(chipID); ok {
		t.Fatal("expected empty cache miss")
	}

	c.Put(chipID, kc)
	got, ok := c.Get(chipID)
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	if got.VCEK.SerialNumber.Cmp(kc.VCEK.SerialNumber) != 0 {
		t.Fatal("expected cached chain to match what was stored")
	}
}

func TestCacheExpiresEntries(t *testing.T) {
	kc := buildChain(t)
	c := NewCache(time.Millisecond)
	chipID := []byte("chip-1")
	c.Put(chipID, kc)

	timeNow = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { timeNow = time.Now }()

	if _, ok := c.Get(chipID); ok {
		t.Fatal("expected expired entry to be a cache miss")
	}
}
