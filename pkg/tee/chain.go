package tee

import (
	"crypto/x509"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/a3s-box/box/pkg/errs"
)

// KeyChain is the three-certificate trust chain AMD's key
// distribution service hands out for a given chip: the ARK (AMD Root
// Key, self-signed), the ASK (AMD SEV Key, signed by the ARK), and the
// VCEK (Versioned Chip Endorsement Key, signed by the ASK) that
// actually signs the attestation report.
//
// Grounded on cuemby-warren/pkg/security/ca.go's
// CertAuthority.VerifyCertificate, which builds an x509.CertPool from
// a single root and calls cert.Verify; generalized here to a
// three-link chain with the ARK as the only trust anchor.
type KeyChain struct {
	ARK  *x509.Certificate
	ASK  *x509.Certificate
	VCEK *x509.Certificate
}

// Verify checks ARK -> ASK -> VCEK, returning an error naming the
// first broken link.
func (kc KeyChain) Verify() error {
	if kc.ARK == nil || kc.ASK == nil || kc.VCEK == nil {
		return errs.New(errs.KindIntegrity, "tee.chain.verify", "", errors.New("incomplete key chain: ARK, ASK, and VCEK are all required"))
	}

	roots := x509.NewCertPool()
	roots.AddCert(kc.ARK)

	if _, err := kc.ASK.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return errs.New(errs.KindIntegrity, "tee.chain.verify", "ask", err)
	}

	intermediates := x509.NewCertPool()
	intermediates.AddCert(kc.ASK)
	if _, err := kc.VCEK.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return errs.New(errs.KindIntegrity, "tee.chain.verify", "vcek", err)
	}
	return nil
}

// cachedChain is a KeyChain plus the time it was fetched, so Cache
// can expire entries without holding the distribution service open.
type cachedChain struct {
	chain    KeyChain
	fetchAt  time.Time
	verified bool
}

// Cache memoizes verified key chains per chip ID, so repeated
// attestations from the same box don't re-fetch and re-verify the
// chain from AMD's key distribution service every time.
//
// Grounded on ca.go's certCache map[string]*CachedCert pattern, keyed
// here by chip ID hex instead of node ID.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]cachedChain
}

// NewCache returns a Cache whose entries expire after ttl. A ttl of
// zero disables expiry.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]cachedChain)}
}

func chipKey(chipID []byte) string {
	return hex.EncodeToString(chipID)
}

// Get returns a previously-verified chain for chipID, or ok=false if
// absent or expired.
func (c *Cache) Get(chipID []byte) (KeyChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.m[chipKey(chipID)]
	if !ok || !entry.verified {
		return KeyChain{}, false
	}
	if c.ttl > 0 && timeNow().Sub(entry.fetchAt) > c.ttl {
		return KeyChain{}, false
	}
	return entry.chain, true
}

// Put records chain as verified for chipID.
func (c *Cache) Put(chipID []byte, chain KeyChain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[chipKey(chipID)] = cachedChain{chain: chain, fetchAt: timeNow(), verified: true}
}

// timeNow is a var so tests can pin it; production always uses
// time.Now.
var timeNow = time.Now
