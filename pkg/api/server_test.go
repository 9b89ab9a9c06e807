package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

type fakeEngine struct {
	records map[string]*types.BoxRecord
	attest  transport.AttestationReport
	sealed  transport.SealedBlob
	unseal  transport.Unsealed
	failErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{records: make(map[string]*types.BoxRecord)}
}

func (f *fakeEngine) Create(cfg types.BoxConfig) (*types.BoxRecord, error) {
	if cfg.Name == "" {
		return nil, errs.New(errs.KindUser, "create", "", errBlank)
	}
	r := &types.BoxRecord{ID: cfg.Name, Config: cfg, State: types.BoxStateCreated}
	f.records[r.ID] = r
	return r, nil
}

func (f *fakeEngine) Inspect(ref string) (*types.BoxRecord, error) {
	r, ok := f.records[ref]
	if !ok {
		return nil, errs.New(errs.KindUser, "inspect", ref, errBlank)
	}
	return r, nil
}

func (f *fakeEngine) List() ([]*types.BoxRecord, error) {
	var out []*types.BoxRecord
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeEngine) Start(ctx context.Context, ref string) error               { return f.failErr }
func (f *fakeEngine) Stop(ctx context.Context, ref string, d time.Duration) error { return f.failErr }
func (f *fakeEngine) Pause(ref string) error                                   { return f.failErr }
func (f *fakeEngine) Resume(ref string) error                                  { return f.failErr }
func (f *fakeEngine) Remove(ref string) error {
	delete(f.records, ref)
	return f.failErr
}

func (f *fakeEngine) Attest(ctx context.Context, ref string, req transport.AttestationRequest) (transport.AttestationReport, error) {
	return f.attest, f.failErr
}
func (f *fakeEngine) Seal(ctx context.Context, ref string, req transport.SealRequest) (transport.SealedBlob, error) {
	return f.sealed, f.failErr
}
func (f *fakeEngine) Unseal(ctx context.Context, ref string, req transport.UnsealRequest) (transport.Unsealed, error) {
	return f.unseal, f.failErr
}

var errBlank = &testError{"not found"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	srv := NewServer(eng, nil, nil, nil, events.NewBroker())
	return httptest.NewServer(srv.Handler()), eng
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestBoxLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/v1/boxes", types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created types.BoxRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "web", created.ID)

	resp = doJSON(t, ts, http.MethodGet, "/v1/boxes/web", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodPost, "/v1/boxes/web/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodDelete, "/v1/boxes/web", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBoxCreateValidationErrorMapsToBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/v1/boxes", types.BoxConfig{Image: "alpine:3.20"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, errs.KindUser, body.Kind)
}

func TestBoxInspectMissingReturnsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/v1/boxes/does-not-exist", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNetworksAndVolumesReturn501WhenUnconfigured(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/v1/networks", nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodGet, "/v1/volumes", nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAttestSealUnsealRoundTripOverHTTP(t *testing.T) {
	ts, eng := newTestServer(t)
	defer ts.Close()

	eng.attest = transport.AttestationReport{Blob: []byte("report")}
	resp := doJSON(t, ts, http.MethodPost, "/v1/boxes/web/attest", attestRequest{Nonce: "0011"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ar attestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ar))
	require.NotEmpty(t, ar.Blob)

	eng.sealed = transport.SealedBlob{Ciphertext: []byte("ct")}
	resp = doJSON(t, ts, http.MethodPost, "/v1/boxes/web/seal", sealRequest{Plaintext: "aabb"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	eng.unseal = transport.Unsealed{Plaintext: []byte("pt")}
	resp = doJSON(t, ts, http.MethodPost, "/v1/boxes/web/unseal", unsealRequest{Ciphertext: "aabb"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthzEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
