package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/types"
)

type fakeAttestationHandler struct{}

func (fakeAttestationHandler) Attest(ctx context.Context, req AttestationRequest) (AttestationReport, error) {
	return AttestationReport{Blob: append([]byte("report:"), req.Nonce...)}, nil
}

func (fakeAttestationHandler) Seal(ctx context.Context, req SealRequest) (SealedBlob, error) {
	return SealedBlob{Ciphertext: append([]byte("sealed:"), req.Plaintext...)}, nil
}

func (fakeAttestationHandler) Unseal(ctx context.Context, req UnsealRequest) (Unsealed, error) {
	return Unsealed{Plaintext: bytes.TrimPrefix(req.Ciphertext, []byte("sealed:"))}, nil
}

func TestAttestationRequestReport(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()

	go ServeAttestation(context.Background(), NewConn(serverNC), fakeAttestationHandler{})

	nonce := bytes.Repeat([]byte{0x42}, nonceSize)
	report, err := RequestAttestation(context.Background(), pipeDialer{clientNC}, nonce, true)
	require.NoError(t, err)
	assert.Equal(t, append([]byte("report:"), nonce...), report.Blob)
}

func TestAttestationRejectsBadNonce(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()

	go ServeAttestation(context.Background(), NewConn(serverNC), fakeAttestationHandler{})

	_, err := RequestAttestation(context.Background(), pipeDialer{clientNC}, []byte("too short"), false)
	assert.Error(t, err)
}

func TestSealAndUnsealRoundTrip(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, ServeAttestation(context.Background(), NewConn(serverNC), fakeAttestationHandler{}))
	}()

	ciphertext, err := SealSecret(context.Background(), pipeDialer{clientNC}, []byte("api-key"), types.SealPolicyMeasurementAndChip)
	require.NoError(t, err)
	assert.Equal(t, "sealed:api-key", string(ciphertext))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("seal server never returned")
	}

	serverNC2, clientNC2 := net.Pipe()
	defer serverNC2.Close()
	go ServeAttestation(context.Background(), NewConn(serverNC2), fakeAttestationHandler{})

	plaintext, err := UnsealSecret(context.Background(), pipeDialer{clientNC2}, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "api-key", string(plaintext))
}
