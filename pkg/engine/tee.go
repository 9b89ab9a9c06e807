package engine

import (
	"context"
	"fmt"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/transport"
)

// TEEFactory mints the transport.AttestationHandler a box's control
// channel serves attestation/seal/unseal requests through. cmd/boxd
// supplies a factory backed by pkg/tee.NewAttestor, simulate mode
// toggled by config.TEESimulate; tests can supply a fake.
type TEEFactory func(boxID string) transport.AttestationHandler

// attestorFor lazily builds and caches one attestation handler per
// box, mirroring lockFor's per-box mutex cache.
func (e *Engine) attestorFor(boxID string) (transport.AttestationHandler, error) {
	if e.teeFactory == nil {
		return nil, errs.New(errs.KindPrecondition, "engine.tee", boxID, fmt.Errorf("no TEE factory configured"))
	}

	e.teeMu.Lock()
	defer e.teeMu.Unlock()
	if e.tee == nil {
		e.tee = make(map[string]transport.AttestationHandler)
	}
	if h, ok := e.tee[boxID]; ok {
		return h, nil
	}
	h := e.teeFactory(boxID)
	e.tee[boxID] = h
	return h, nil
}

// requireTEE returns the box's ID and confirms it opted into TEE,
// the shared precondition for Attest/Seal/Unseal.
func (e *Engine) requireTEE(ref string) (string, error) {
	record, err := e.store.Get(ref)
	if err != nil {
		return "", err
	}
	if record.Config.TEE == nil || !record.Config.TEE.Enabled {
		return "", errs.New(errs.KindPrecondition, "engine.tee", record.ID, fmt.Errorf("box was not created with TEE enabled"))
	}
	return record.ID, nil
}

// Attest requests a fresh attestation report for ref's box.
func (e *Engine) Attest(ctx context.Context, ref string, req transport.AttestationRequest) (transport.AttestationReport, error) {
	boxID, err := e.requireTEE(ref)
	if err != nil {
		return transport.AttestationReport{}, err
	}
	handler, err := e.attestorFor(boxID)
	if err != nil {
		return transport.AttestationReport{}, err
	}
	return handler.Attest(ctx, req)
}

// Seal encrypts plaintext under ref's box's current TEE identity.
func (e *Engine) Seal(ctx context.Context, ref string, req transport.SealRequest) (transport.SealedBlob, error) {
	boxID, err := e.requireTEE(ref)
	if err != nil {
		return transport.SealedBlob{}, err
	}
	handler, err := e.attestorFor(boxID)
	if err != nil {
		return transport.SealedBlob{}, err
	}
	return handler.Seal(ctx, req)
}

// Unseal decrypts ciphertext previously sealed for ref's box.
func (e *Engine) Unseal(ctx context.Context, ref string, req transport.UnsealRequest) (transport.Unsealed, error) {
	boxID, err := e.requireTEE(ref)
	if err != nil {
		return transport.Unsealed{}, err
	}
	handler, err := e.attestorFor(boxID)
	if err != nil {
		return transport.Unsealed{}, err
	}
	return handler.Unseal(ctx, req)
}
