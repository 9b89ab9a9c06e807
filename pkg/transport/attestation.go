package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/a3s-box/box/pkg/types"
)

// Attestation channel frame types.
const (
	AttestationRequestFrame FrameType = 0x01
	AttestationReportFrame  FrameType = 0x02
	AttestationSealFrame    FrameType = 0x03
	AttestationUnsealFrame  FrameType = 0x04
	AttestationErrorFrame   FrameType = 0x05
)

// nonceSize is the fixed nonce length spec.md's attestation request
// mandates.
const nonceSize = 64

// AttestationRequest is the JSON payload of a 0x01 Request frame.
type AttestationRequest struct {
	Nonce     []byte `json:"nonce"`
	WantCerts bool   `json:"wantCerts"`
}

// AttestationReport is the JSON payload of a 0x02 Report frame.
type AttestationReport struct {
	Blob  []byte   `json:"blob"`
	Chain [][]byte `json:"chain,omitempty"`
}

// SealRequest is the JSON payload of a 0x03 Seal frame.
type SealRequest struct {
	Plaintext []byte           `json:"plaintext"`
	Policy    types.SealPolicy `json:"policy"`
}

// SealedBlob is the JSON payload of the Seal frame's response.
type SealedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
}

// UnsealRequest is the JSON payload of a 0x04 Unseal frame.
type UnsealRequest struct {
	Ciphertext []byte `json:"ciphertext"`
}

// Unsealed is the JSON payload of the Unseal frame's response.
type Unsealed struct {
	Plaintext []byte `json:"plaintext"`
}

// AttestationHandler fulfills attestation, seal, and unseal requests.
// pkg/tee provides the production implementation (AES-256-GCM sealed
// storage plus VCEK/ASK/ARK chain verification); this package only
// owns the wire dispatch.
type AttestationHandler interface {
	Attest(ctx context.Context, req AttestationRequest) (AttestationReport, error)
	Seal(ctx context.Context, req SealRequest) (SealedBlob, error)
	Unseal(ctx context.Context, req UnsealRequest) (Unsealed, error)
}

// ServeAttestation reads one request frame and dispatches it to
// handler, writing the corresponding response or an Error frame.
// Like the exec channel, attestation connections are single-use per
// operation.
func ServeAttestation(ctx context.Context, conn *Conn, handler AttestationHandler) error {
	frame, err := conn.ReadFrame()
	if err != nil {
		return err
	}

	switch frame.Type {
	case AttestationRequestFrame:
		var req AttestationRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		if len(req.Nonce) != nonceSize {
			return conn.WriteFrame(AttestationErrorFrame, []byte(fmt.Sprintf("nonce must be %d bytes", nonceSize)))
		}
		report, err := handler.Attest(ctx, req)
		if err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		payload, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("transport: marshal attestation report: %w", err)
		}
		return conn.WriteFrame(AttestationReportFrame, payload)

	case AttestationSealFrame:
		var req SealRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		sealed, err := handler.Seal(ctx, req)
		if err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		payload, err := json.Marshal(sealed)
		if err != nil {
			return fmt.Errorf("transport: marshal sealed blob: %w", err)
		}
		return conn.WriteFrame(AttestationSealFrame, payload)

	case AttestationUnsealFrame:
		var req UnsealRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		plain, err := handler.Unseal(ctx, req)
		if err != nil {
			return conn.WriteFrame(AttestationErrorFrame, []byte(err.Error()))
		}
		payload, err := json.Marshal(plain)
		if err != nil {
			return fmt.Errorf("transport: marshal unsealed payload: %w", err)
		}
		return conn.WriteFrame(AttestationUnsealFrame, payload)

	default:
		return conn.WriteFrame(AttestationErrorFrame, []byte(fmt.Sprintf("unexpected attestation frame type %d", frame.Type)))
	}
}

// RequestAttestation dials the attestation channel and requests a
// report for nonce.
func RequestAttestation(ctx context.Context, dialer Dialer, nonce []byte, wantCerts bool) (*AttestationReport, error) {
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("transport: nonce must be %d bytes", nonceSize)
	}
	nc, err := dialer.DialChannel(ctx, PortAttestation)
	if err != nil {
		return nil, err
	}
	conn := NewConn(nc)
	defer conn.Close()

	payload, err := json.Marshal(AttestationRequest{Nonce: nonce, WantCerts: wantCerts})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(AttestationRequestFrame, payload); err != nil {
		return nil, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case AttestationReportFrame:
		var report AttestationReport
		if err := json.Unmarshal(frame.Payload, &report); err != nil {
			return nil, err
		}
		return &report, nil
	case AttestationErrorFrame:
		return nil, fmt.Errorf("transport: attestation error: %s", frame.Payload)
	default:
		return nil, fmt.Errorf("transport: unexpected attestation frame type %d", frame.Type)
	}
}

// SealSecret dials the attestation channel and seals plaintext under policy.
func SealSecret(ctx context.Context, dialer Dialer, plaintext []byte, policy types.SealPolicy) ([]byte, error) {
	nc, err := dialer.DialChannel(ctx, PortAttestation)
	if err != nil {
		return nil, err
	}
	conn := NewConn(nc)
	defer conn.Close()

	payload, err := json.Marshal(SealRequest{Plaintext: plaintext, Policy: policy})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(AttestationSealFrame, payload); err != nil {
		return nil, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case AttestationSealFrame:
		var sealed SealedBlob
		if err := json.Unmarshal(frame.Payload, &sealed); err != nil {
			return nil, err
		}
		return sealed.Ciphertext, nil
	case AttestationErrorFrame:
		return nil, fmt.Errorf("transport: seal error: %s", frame.Payload)
	default:
		return nil, fmt.Errorf("transport: unexpected attestation frame type %d", frame.Type)
	}
}

// UnsealSecret dials the attestation channel and unseals ciphertext.
func UnsealSecret(ctx context.Context, dialer Dialer, ciphertext []byte) ([]byte, error) {
	nc, err := dialer.DialChannel(ctx, PortAttestation)
	if err != nil {
		return nil, err
	}
	conn := NewConn(nc)
	defer conn.Close()

	payload, err := json.Marshal(UnsealRequest{Ciphertext: ciphertext})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(AttestationUnsealFrame, payload); err != nil {
		return nil, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case AttestationUnsealFrame:
		var plain Unsealed
		if err := json.Unmarshal(frame.Payload, &plain); err != nil {
			return nil, err
		}
		return plain.Plaintext, nil
	case AttestationErrorFrame:
		return nil, fmt.Errorf("transport: unseal error: %s", frame.Payload)
	default:
		return nil, fmt.Errorf("transport: unexpected attestation frame type %d", frame.Type)
	}
}
