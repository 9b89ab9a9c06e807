package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/a3s-box/box/pkg/types"
)

// Client talks to a cmd/boxd daemon's control API over a Unix-domain
// socket.
type Client struct {
	http *http.Client
}

// NewClient dials the Unix-domain socket at socketPath. The daemon is
// expected to already be listening; unlike warren's NewClient there is
// no certificate to provision first — socket file permissions (0700,
// owned by the user who started boxd) are the access control.
func NewClient(socketPath string) (*Client, error) {
	dialer := &net.Dialer{}
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// errorResponse mirrors pkg/api's wire error shape so callers can
// inspect Kind without importing pkg/api.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := url.URL{Scheme: "http", Host: "boxd", Path: path}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: connect to boxd (is it running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("boxd: %s (%s)", e.Error, e.Kind)
		}
		return fmt.Errorf("boxd: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- boxes ---

func (c *Client) CreateBox(ctx context.Context, cfg types.BoxConfig) (*types.BoxRecord, error) {
	var rec types.BoxRecord
	if err := c.do(ctx, http.MethodPost, "/v1/boxes", cfg, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) ListBoxes(ctx context.Context) ([]*types.BoxRecord, error) {
	var recs []*types.BoxRecord
	if err := c.do(ctx, http.MethodGet, "/v1/boxes", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) InspectBox(ctx context.Context, ref string) (*types.BoxRecord, error) {
	var rec types.BoxRecord
	if err := c.do(ctx, http.MethodGet, "/v1/boxes/"+url.PathEscape(ref), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) RemoveBox(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, "/v1/boxes/"+url.PathEscape(ref), nil, nil)
}

func (c *Client) StartBox(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/start", nil, nil)
}

func (c *Client) StopBox(ctx context.Context, ref string, timeout time.Duration) error {
	path := "/v1/boxes/" + url.PathEscape(ref) + "/stop"
	if timeout > 0 {
		path += "?timeout=" + timeout.String()
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) PauseBox(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/pause", nil, nil)
}

func (c *Client) ResumeBox(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/resume", nil, nil)
}

// --- TEE ---

// AttestRequest mirrors pkg/api's wire request for /attest.
type AttestRequest struct {
	Nonce     []byte
	WantCerts bool
}

// AttestResult is the decoded report/chain pair returned by /attest.
type AttestResult struct {
	Blob  []byte
	Chain []byte
}

func (c *Client) Attest(ctx context.Context, ref string, req AttestRequest) (*AttestResult, error) {
	var resp struct {
		Blob  string `json:"blob"`
		Chain string `json:"chain,omitempty"`
	}
	wireReq := struct {
		Nonce     string `json:"nonce"`
		WantCerts bool   `json:"wantCerts"`
	}{Nonce: hex.EncodeToString(req.Nonce), WantCerts: req.WantCerts}

	if err := c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/attest", wireReq, &resp); err != nil {
		return nil, err
	}
	blob, err := hex.DecodeString(resp.Blob)
	if err != nil {
		return nil, fmt.Errorf("client: decode attestation blob: %w", err)
	}
	chain, err := hex.DecodeString(resp.Chain)
	if err != nil {
		return nil, fmt.Errorf("client: decode attestation chain: %w", err)
	}
	return &AttestResult{Blob: blob, Chain: chain}, nil
}

func (c *Client) Seal(ctx context.Context, ref string, policy types.SealPolicy, plaintext []byte) ([]byte, error) {
	var resp struct {
		Ciphertext string `json:"ciphertext"`
	}
	req := struct {
		Plaintext string           `json:"plaintext"`
		Policy    types.SealPolicy `json:"policy,omitempty"`
	}{Plaintext: hex.EncodeToString(plaintext), Policy: policy}

	if err := c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/seal", req, &resp); err != nil {
		return nil, err
	}
	return hex.DecodeString(resp.Ciphertext)
}

func (c *Client) Unseal(ctx context.Context, ref string, ciphertext []byte) ([]byte, error) {
	var resp struct {
		Plaintext string `json:"plaintext"`
	}
	req := struct {
		Ciphertext string `json:"ciphertext"`
	}{Ciphertext: hex.EncodeToString(ciphertext)}

	if err := c.do(ctx, http.MethodPost, "/v1/boxes/"+url.PathEscape(ref)+"/unseal", req, &resp); err != nil {
		return nil, err
	}
	return hex.DecodeString(resp.Plaintext)
}

// --- images ---

func (c *Client) PullImage(ctx context.Context, ref string) (*types.Image, error) {
	var img types.Image
	req := struct {
		Ref string `json:"ref"`
	}{Ref: ref}
	if err := c.do(ctx, http.MethodPost, "/v1/images/pull", req, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (c *Client) ListImages(ctx context.Context) ([]*types.Image, error) {
	var imgs []*types.Image
	if err := c.do(ctx, http.MethodGet, "/v1/images", nil, &imgs); err != nil {
		return nil, err
	}
	return imgs, nil
}

func (c *Client) InspectImage(ctx context.Context, ref string) (*types.Image, error) {
	var img types.Image
	if err := c.do(ctx, http.MethodGet, "/v1/images/"+url.PathEscape(ref), nil, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, "/v1/images/"+url.PathEscape(ref), nil, nil)
}

func (c *Client) TagImage(ctx context.Context, ref, newTag string) error {
	req := struct {
		NewTag string `json:"newTag"`
	}{NewTag: newTag}
	return c.do(ctx, http.MethodPost, "/v1/images/"+url.PathEscape(ref)+"/tag", req, nil)
}

func (c *Client) PushImage(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/v1/images/"+url.PathEscape(ref)+"/push", nil, nil)
}

func (c *Client) PruneImages(ctx context.Context, inUse map[string]bool) (int64, error) {
	var resp struct {
		ReclaimedBytes int64 `json:"reclaimedBytes"`
	}
	req := struct {
		InUse map[string]bool `json:"inUse"`
	}{InUse: inUse}
	if err := c.do(ctx, http.MethodPost, "/v1/images/prune", req, &resp); err != nil {
		return 0, err
	}
	return resp.ReclaimedBytes, nil
}

// --- networks ---

func (c *Client) CreateNetwork(ctx context.Context, name, subnet string, labels map[string]string) (*types.Network, error) {
	var n types.Network
	req := struct {
		Name   string            `json:"name"`
		Subnet string            `json:"subnet"`
		Labels map[string]string `json:"labels,omitempty"`
	}{Name: name, Subnet: subnet, Labels: labels}
	if err := c.do(ctx, http.MethodPost, "/v1/networks", req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) ListNetworks(ctx context.Context) ([]*types.Network, error) {
	var nets []*types.Network
	if err := c.do(ctx, http.MethodGet, "/v1/networks", nil, &nets); err != nil {
		return nil, err
	}
	return nets, nil
}

func (c *Client) InspectNetwork(ctx context.Context, name string) (*types.Network, error) {
	var n types.Network
	if err := c.do(ctx, http.MethodGet, "/v1/networks/"+url.PathEscape(name), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/networks/"+url.PathEscape(name), nil, nil)
}

// --- volumes ---

func (c *Client) CreateVolume(ctx context.Context, name, driver string, labels map[string]string) (*types.Volume, error) {
	var v types.Volume
	req := struct {
		Name   string            `json:"name"`
		Driver string            `json:"driver,omitempty"`
		Labels map[string]string `json:"labels,omitempty"`
	}{Name: name, Driver: driver, Labels: labels}
	if err := c.do(ctx, http.MethodPost, "/v1/volumes", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListVolumes(ctx context.Context) ([]*types.Volume, error) {
	var vols []*types.Volume
	if err := c.do(ctx, http.MethodGet, "/v1/volumes", nil, &vols); err != nil {
		return nil, err
	}
	return vols, nil
}

func (c *Client) InspectVolume(ctx context.Context, name string) (*types.Volume, error) {
	var v types.Volume
	if err := c.do(ctx, http.MethodGet, "/v1/volumes/"+url.PathEscape(name), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string, force bool) error {
	path := "/v1/volumes/" + url.PathEscape(name)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) PruneVolumes(ctx context.Context) ([]string, error) {
	var resp struct {
		Removed []string `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/volumes/prune", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Removed, nil
}
