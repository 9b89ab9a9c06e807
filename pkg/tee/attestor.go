package tee

import (
	"context"
	"errors"
	"sync"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/transport"
)

// Attestor implements transport.AttestationHandler. In simulate mode
// (A3S_TEE_SIMULATE=1, see pkg/config) it serves deterministic reports
// derived from the box ID and performs sealed storage against that
// simulated identity — useful for the CLI, tests, and any host without
// SEV-SNP hardware. Outside simulate mode, Attest reports that no
// hardware attestation source is wired on the host; the in-guest agent
// is the component that would actually invoke the attestation ioctl
// and answer this channel from the guest side.
//
// One Attestor is scoped to one box: its identity (the report Seal and
// Unseal bind secrets to) is fixed for the box's lifetime once an
// Attest call establishes it.
type Attestor struct {
	boxID    string
	simulate bool

	mu       sync.Mutex
	identity Report
	attested bool
}

// NewAttestor returns an Attestor for boxID. When simulate is true,
// Attest always succeeds with a deterministic report and Seal/Unseal
// are immediately usable without a prior Attest call (the simulated
// identity is established at construction from a fixed nonce).
func NewAttestor(boxID string, simulate bool) *Attestor {
	a := &Attestor{boxID: boxID, simulate: simulate}
	if simulate {
		a.identity = SimulateReport(boxID, simulatedNonce(boxID))
		a.attested = true
	}
	return a
}

// simulatedNonce derives a fixed 64-byte nonce from the box ID so
// simulate-mode sealing has a stable identity to bind to even before
// any real AttestationRequestFrame nonce has been exchanged.
func simulatedNonce(boxID string) []byte {
	r := SimulateReport(boxID, nil)
	return r.ChipID[:ReportDataSize]
}

// Attest implements transport.AttestationHandler.
func (a *Attestor) Attest(_ context.Context, req transport.AttestationRequest) (transport.AttestationReport, error) {
	if !a.simulate {
		return transport.AttestationReport{}, errs.New(errs.KindExternal, "tee.attest", a.boxID,
			errors.New("no hardware attestation source on this host; requires the in-guest agent"))
	}

	report := SimulateReport(a.boxID, req.Nonce)

	a.mu.Lock()
	a.identity = report
	a.attested = true
	a.mu.Unlock()

	blob, err := report.MarshalBinary()
	if err != nil {
		return transport.AttestationReport{}, errs.New(errs.KindInternal, "tee.attest", a.boxID, err)
	}
	return transport.AttestationReport{Blob: blob}, nil
}

// Seal implements transport.AttestationHandler.
func (a *Attestor) Seal(_ context.Context, req transport.SealRequest) (transport.SealedBlob, error) {
	identity, err := a.currentIdentity()
	if err != nil {
		return transport.SealedBlob{}, err
	}
	blob, err := Seal(req.Policy, identity, req.Plaintext)
	if err != nil {
		return transport.SealedBlob{}, err
	}
	return transport.SealedBlob{Ciphertext: blob}, nil
}

// Unseal implements transport.AttestationHandler.
func (a *Attestor) Unseal(_ context.Context, req transport.UnsealRequest) (transport.Unsealed, error) {
	identity, err := a.currentIdentity()
	if err != nil {
		return transport.Unsealed{}, err
	}
	plaintext, err := Unseal(identity, req.Ciphertext)
	if err != nil {
		return transport.Unsealed{}, err
	}
	return transport.Unsealed{Plaintext: plaintext}, nil
}

func (a *Attestor) currentIdentity() (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attested {
		return Report{}, errs.New(errs.KindPrecondition, "tee.identity", a.boxID, errors.New("no attestation has established a TEE identity yet"))
	}
	return a.identity, nil
}
