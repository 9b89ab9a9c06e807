package client

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/api"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

type fakeEngine struct {
	records map[string]*types.BoxRecord
}

func (f *fakeEngine) Create(cfg types.BoxConfig) (*types.BoxRecord, error) {
	r := &types.BoxRecord{ID: cfg.Name, Config: cfg, State: types.BoxStateCreated}
	f.records[r.ID] = r
	return r, nil
}
func (f *fakeEngine) Inspect(ref string) (*types.BoxRecord, error) { return f.records[ref], nil }
func (f *fakeEngine) List() ([]*types.BoxRecord, error) {
	var out []*types.BoxRecord
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}
func (f *fakeEngine) Start(ctx context.Context, ref string) error { return nil }
func (f *fakeEngine) Stop(ctx context.Context, ref string, d time.Duration) error {
	return nil
}
func (f *fakeEngine) Pause(ref string) error  { return nil }
func (f *fakeEngine) Resume(ref string) error { return nil }
func (f *fakeEngine) Remove(ref string) error {
	delete(f.records, ref)
	return nil
}
func (f *fakeEngine) Attest(ctx context.Context, ref string, req transport.AttestationRequest) (transport.AttestationReport, error) {
	return transport.AttestationReport{Blob: []byte("r")}, nil
}
func (f *fakeEngine) Seal(ctx context.Context, ref string, req transport.SealRequest) (transport.SealedBlob, error) {
	return transport.SealedBlob{Ciphertext: req.Plaintext}, nil
}
func (f *fakeEngine) Unseal(ctx context.Context, ref string, req transport.UnsealRequest) (transport.Unsealed, error) {
	return transport.Unsealed{Plaintext: req.Ciphertext}, nil
}

func startTestDaemon(t *testing.T) (*Client, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "boxd.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	srv := api.NewServer(&fakeEngine{records: make(map[string]*types.BoxRecord)}, nil, nil, nil, events.NewBroker())
	httpSrv := &http.Server{Handler: srv.Handler()}
	go httpSrv.Serve(ln)

	cl, err := NewClient(sockPath)
	require.NoError(t, err)
	return cl, func() {
		httpSrv.Close()
		cl.Close()
	}
}

func TestClientBoxLifecycle(t *testing.T) {
	cl, stop := startTestDaemon(t)
	defer stop()
	ctx := context.Background()

	rec, err := cl.CreateBox(ctx, types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)
	require.Equal(t, "web", rec.ID)

	_, err = cl.InspectBox(ctx, "web")
	require.NoError(t, err)

	require.NoError(t, cl.StartBox(ctx, "web"))
	require.NoError(t, cl.PauseBox(ctx, "web"))
	require.NoError(t, cl.ResumeBox(ctx, "web"))
	require.NoError(t, cl.StopBox(ctx, "web", 5*time.Second))
	require.NoError(t, cl.RemoveBox(ctx, "web"))

	list, err := cl.ListBoxes(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestClientAttestSealUnseal(t *testing.T) {
	cl, stop := startTestDaemon(t)
	defer stop()
	ctx := context.Background()

	result, err := cl.Attest(ctx, "web", AttestRequest{Nonce: []byte("nonce")})
	require.NoError(t, err)
	require.Equal(t, []byte("r"), result.Blob)

	ct, err := cl.Seal(ctx, "web", types.SealPolicyMeasurementAndChip, []byte("secret"))
	require.NoError(t, err)

	pt, err := cl.Unseal(ctx, "web", ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pt)
}

func TestClientInspectUnknownBoxDecodesZeroRecord(t *testing.T) {
	cl, stop := startTestDaemon(t)
	defer stop()

	_, err := cl.InspectBox(context.Background(), "missing")
	require.NoError(t, err) // fakeEngine.Inspect never errors; nil record decodes to zero value
}
