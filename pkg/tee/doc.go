// Package tee implements spec.md §4.8's TEE extension: SEV-SNP
// attestation report evaluation, VCEK→ASK→ARK chain validation,
// RA-TLS certificate construction/verification, and AES-256-GCM
// sealed storage keyed from TEE identity material.
//
// The hardware attestation ioctl itself runs inside the guest and is
// owned by the in-guest agent, an external collaborator this module
// does not build (see SPEC_FULL.md §4). What lives here is everything
// the host does with whatever report comes back over the vsock
// attestation channel (pkg/transport, port 4091): policy evaluation,
// certificate chain verification, and the sealed-storage cryptography
// used to encrypt secrets before they're injected into a box.
//
// Attestor also implements transport.AttestationHandler directly, for
// A3S_TEE_SIMULATE=1 development and test environments where no real
// guest agent or SEV-SNP hardware is present: the same interface the
// real in-guest agent would serve is served locally with deterministic,
// hash-derived reports, so callers stay policy-driven rather than
// branching on whether hardware is present.
//
// Generalized from cuemby-warren/pkg/security: secrets.go's
// AES-256-GCM nonce-prepended-to-ciphertext convention (seal.go) and
// ca.go's x509.CertPool chain verification (chain.go), adapted from
// "verify a node cert against the cluster CA" to "verify a VCEK
// against AMD's key distribution chain."
package tee
