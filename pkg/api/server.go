package api

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

// Engine is the subset of *engine.Engine the server calls into. An
// interface here (rather than importing pkg/engine directly) keeps
// this package testable with a fake and mirrors how pkg/engine itself
// decouples from pkg/registry/pkg/rootfs via ImageResolver/RootfsComposer.
type Engine interface {
	Create(cfg types.BoxConfig) (*types.BoxRecord, error)
	Inspect(ref string) (*types.BoxRecord, error)
	List() ([]*types.BoxRecord, error)
	Start(ctx context.Context, ref string) error
	Stop(ctx context.Context, ref string, timeout time.Duration) error
	Pause(ref string) error
	Resume(ref string) error
	Remove(ref string) error
	Attest(ctx context.Context, ref string, req transport.AttestationRequest) (transport.AttestationReport, error)
	Seal(ctx context.Context, ref string, req transport.SealRequest) (transport.SealedBlob, error)
	Unseal(ctx context.Context, ref string, req transport.UnsealRequest) (transport.Unsealed, error)
}

// Registry is the subset of *registry.Client the server calls into.
type Registry interface {
	Pull(ref string, broker *events.Broker) (*types.Image, error)
	Inspect(ref string) (*types.Image, error)
	List() ([]*types.Image, error)
	Tag(ref, newTag string) error
	Remove(ref string) error
	Push(ref string) error
	Prune(inUse map[string]bool) (int64, error)
}

// Networks is the subset of *network.Manager the server calls into.
type Networks interface {
	Create(name, subnetCIDR string, labels map[string]string) (*types.Network, error)
	Get(name string) (*types.Network, error)
	List() ([]*types.Network, error)
	Delete(name string) error
}

// Volumes is the subset of *volume.Manager the server calls into.
type Volumes interface {
	Create(name, driverName string, labels map[string]string) (*types.Volume, error)
	Get(name string) (*types.Volume, error)
	List() ([]*types.Volume, error)
	Remove(name string, force bool) error
	Prune() ([]string, error)
}

// Server is a3s box's control API: one process-wide http.ServeMux
// serving the box/image/network/volume/TEE surface cmd/box drives,
// grounded on cuemby-warren/pkg/api/health.go's mux-plus-JSON shape.
type Server struct {
	engine   Engine
	registry Registry
	networks Networks
	volumes  Volumes
	broker   *events.Broker

	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer wires engine/registry/networks/volumes into a Server and
// registers every route. networks and volumes may be nil if those
// subsystems are not configured; their routes then return 501.
func NewServer(eng Engine, reg Registry, nets Networks, vols Volumes, broker *events.Broker) *Server {
	s := &Server{
		engine:   eng,
		registry: reg,
		networks: nets,
		volumes:  vols,
		broker:   broker,
		mux:      http.NewServeMux(),
		logger:   log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("POST /v1/boxes", s.handleBoxCreate)
	s.mux.HandleFunc("GET /v1/boxes", s.handleBoxList)
	s.mux.HandleFunc("GET /v1/boxes/{ref}", s.handleBoxInspect)
	s.mux.HandleFunc("DELETE /v1/boxes/{ref}", s.handleBoxRemove)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/start", s.handleBoxStart)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/stop", s.handleBoxStop)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/pause", s.handleBoxPause)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/resume", s.handleBoxResume)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/attest", s.handleAttest)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/seal", s.handleSeal)
	s.mux.HandleFunc("POST /v1/boxes/{ref}/unseal", s.handleUnseal)

	s.mux.HandleFunc("POST /v1/images/pull", s.handleImagePull)
	s.mux.HandleFunc("GET /v1/images", s.handleImageList)
	s.mux.HandleFunc("GET /v1/images/{ref}", s.handleImageInspect)
	s.mux.HandleFunc("DELETE /v1/images/{ref}", s.handleImageRemove)
	s.mux.HandleFunc("POST /v1/images/{ref}/tag", s.handleImageTag)
	s.mux.HandleFunc("POST /v1/images/{ref}/push", s.handleImagePush)
	s.mux.HandleFunc("POST /v1/images/prune", s.handleImagePrune)

	s.mux.HandleFunc("POST /v1/networks", s.handleNetworkCreate)
	s.mux.HandleFunc("GET /v1/networks", s.handleNetworkList)
	s.mux.HandleFunc("GET /v1/networks/{name}", s.handleNetworkInspect)
	s.mux.HandleFunc("DELETE /v1/networks/{name}", s.handleNetworkRemove)

	s.mux.HandleFunc("POST /v1/volumes", s.handleVolumeCreate)
	s.mux.HandleFunc("GET /v1/volumes", s.handleVolumeList)
	s.mux.HandleFunc("GET /v1/volumes/{name}", s.handleVolumeInspect)
	s.mux.HandleFunc("DELETE /v1/volumes/{name}", s.handleVolumeRemove)
	s.mux.HandleFunc("POST /v1/volumes/prune", s.handleVolumePrune)
}

// Handler returns the registered mux wrapped in logging middleware,
// for embedding into an *http.Server or httptest.Server.
func (s *Server) Handler() http.Handler {
	return withAccessLog(s.logger, s.mux)
}

// Serve accepts connections on ln (typically a Unix-domain socket
// listener) until ctx is canceled, mirroring
// cuemby-warren/pkg/api/health.go's Start method but driven by a
// context instead of owning the listener itself.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// --- boxes ---

func (s *Server) handleBoxCreate(w http.ResponseWriter, r *http.Request) {
	var cfg types.BoxConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	record, err := s.engine.Create(cfg)
	writeResult(w, record, err)
}

func (s *Server) handleBoxList(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.List()
	writeResult(w, records, err)
}

func (s *Server) handleBoxInspect(w http.ResponseWriter, r *http.Request) {
	record, err := s.engine.Inspect(r.PathValue("ref"))
	writeResult(w, record, err)
}

func (s *Server) handleBoxRemove(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Remove(r.PathValue("ref"))
	writeResult(w, struct{}{}, err)
}

func (s *Server) handleBoxStart(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Start(r.Context(), r.PathValue("ref"))
	writeResult(w, struct{}{}, err)
}

func (s *Server) handleBoxStop(w http.ResponseWriter, r *http.Request) {
	timeout := 10 * time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}
	err := s.engine.Stop(r.Context(), r.PathValue("ref"), timeout)
	writeResult(w, struct{}{}, err)
}

func (s *Server) handleBoxPause(w http.ResponseWriter, r *http.Request) {
	writeResult(w, struct{}{}, s.engine.Pause(r.PathValue("ref")))
}

func (s *Server) handleBoxResume(w http.ResponseWriter, r *http.Request) {
	writeResult(w, struct{}{}, s.engine.Resume(r.PathValue("ref")))
}

// --- TEE ---

type attestRequest struct {
	Nonce     string `json:"nonce"` // hex-encoded
	WantCerts bool   `json:"wantCerts"`
}

type attestResponse struct {
	Blob  string `json:"blob"` // hex-encoded
	Chain string `json:"chain,omitempty"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var body attestRequest
	if !decodeBody(w, r, &body) {
		return
	}
	nonce, err := hex.DecodeString(body.Nonce)
	if err != nil {
		writeError(w, errs.New(errs.KindUser, "api.attest", "", err))
		return
	}
	report, err := s.engine.Attest(r.Context(), r.PathValue("ref"), transport.AttestationRequest{Nonce: nonce, WantCerts: body.WantCerts})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attestResponse{
		Blob:  hex.EncodeToString(report.Blob),
		Chain: hex.EncodeToString(report.Chain),
	})
}

type sealRequest struct {
	Plaintext string           `json:"plaintext"` // hex-encoded
	Policy    types.SealPolicy `json:"policy,omitempty"`
}

type sealedResponse struct {
	Ciphertext string `json:"ciphertext"` // hex-encoded
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	var body sealRequest
	if !decodeBody(w, r, &body) {
		return
	}
	plaintext, err := hex.DecodeString(body.Plaintext)
	if err != nil {
		writeError(w, errs.New(errs.KindUser, "api.seal", "", err))
		return
	}
	sealed, err := s.engine.Seal(r.Context(), r.PathValue("ref"), transport.SealRequest{Plaintext: plaintext, Policy: body.Policy})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sealedResponse{Ciphertext: hex.EncodeToString(sealed.Ciphertext)})
}

type unsealRequest struct {
	Ciphertext string `json:"ciphertext"` // hex-encoded
}

type unsealedResponse struct {
	Plaintext string `json:"plaintext"` // hex-encoded
}

func (s *Server) handleUnseal(w http.ResponseWriter, r *http.Request) {
	var body unsealRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ciphertext, err := hex.DecodeString(body.Ciphertext)
	if err != nil {
		writeError(w, errs.New(errs.KindUser, "api.unseal", "", err))
		return
	}
	unsealed, err := s.engine.Unseal(r.Context(), r.PathValue("ref"), transport.UnsealRequest{Ciphertext: ciphertext})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unsealedResponse{Plaintext: hex.EncodeToString(unsealed.Plaintext)})
}

// --- images ---

type pullRequest struct {
	Ref string `json:"ref"`
}

func (s *Server) handleImagePull(w http.ResponseWriter, r *http.Request) {
	var body pullRequest
	if !decodeBody(w, r, &body) {
		return
	}
	img, err := s.registry.Pull(body.Ref, s.broker)
	writeResult(w, img, err)
}

func (s *Server) handleImageList(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.registry.List()
	writeResult(w, imgs, err)
}

func (s *Server) handleImageInspect(w http.ResponseWriter, r *http.Request) {
	img, err := s.registry.Inspect(r.PathValue("ref"))
	writeResult(w, img, err)
}

func (s *Server) handleImageRemove(w http.ResponseWriter, r *http.Request) {
	writeResult(w, struct{}{}, s.registry.Remove(r.PathValue("ref")))
}

func (s *Server) handleImageTag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewTag string `json:"newTag"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	writeResult(w, struct{}{}, s.registry.Tag(r.PathValue("ref"), body.NewTag))
}

func (s *Server) handleImagePush(w http.ResponseWriter, r *http.Request) {
	writeResult(w, struct{}{}, s.registry.Push(r.PathValue("ref")))
}

func (s *Server) handleImagePrune(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InUse map[string]bool `json:"inUse"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	reclaimed, err := s.registry.Prune(body.InUse)
	writeResult(w, struct {
		ReclaimedBytes int64 `json:"reclaimedBytes"`
	}{reclaimed}, err)
}

// --- networks ---

func (s *Server) handleNetworkCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetworks(w) {
		return
	}
	var body struct {
		Name   string            `json:"name"`
		Subnet string            `json:"subnet"`
		Labels map[string]string `json:"labels,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	n, err := s.networks.Create(body.Name, body.Subnet, body.Labels)
	writeResult(w, n, err)
}

func (s *Server) handleNetworkList(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetworks(w) {
		return
	}
	nets, err := s.networks.List()
	writeResult(w, nets, err)
}

func (s *Server) handleNetworkInspect(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetworks(w) {
		return
	}
	n, err := s.networks.Get(r.PathValue("name"))
	writeResult(w, n, err)
}

func (s *Server) handleNetworkRemove(w http.ResponseWriter, r *http.Request) {
	if !s.requireNetworks(w) {
		return
	}
	writeResult(w, struct{}{}, s.networks.Delete(r.PathValue("name")))
}

func (s *Server) requireNetworks(w http.ResponseWriter) bool {
	if s.networks != nil {
		return true
	}
	http.Error(w, "networking is not configured on this daemon", http.StatusNotImplemented)
	return false
}

// --- volumes ---

func (s *Server) handleVolumeCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireVolumes(w) {
		return
	}
	var body struct {
		Name   string            `json:"name"`
		Driver string            `json:"driver,omitempty"`
		Labels map[string]string `json:"labels,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	vol, err := s.volumes.Create(body.Name, body.Driver, body.Labels)
	writeResult(w, vol, err)
}

func (s *Server) handleVolumeList(w http.ResponseWriter, r *http.Request) {
	if !s.requireVolumes(w) {
		return
	}
	vols, err := s.volumes.List()
	writeResult(w, vols, err)
}

func (s *Server) handleVolumeInspect(w http.ResponseWriter, r *http.Request) {
	if !s.requireVolumes(w) {
		return
	}
	vol, err := s.volumes.Get(r.PathValue("name"))
	writeResult(w, vol, err)
}

func (s *Server) handleVolumeRemove(w http.ResponseWriter, r *http.Request) {
	if !s.requireVolumes(w) {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	writeResult(w, struct{}{}, s.volumes.Remove(r.PathValue("name"), force))
}

func (s *Server) handleVolumePrune(w http.ResponseWriter, r *http.Request) {
	if !s.requireVolumes(w) {
		return
	}
	removed, err := s.volumes.Prune()
	writeResult(w, struct {
		Removed []string `json:"removed"`
	}{removed}, err)
}

func (s *Server) requireVolumes(w http.ResponseWriter) bool {
	if s.volumes != nil {
		return true
	}
	http.Error(w, "volumes are not configured on this daemon", http.StatusNotImplemented)
	return false
}
