package mesh

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/fabric/pkg/apierrors"
	"github.com/cuemby/fabric/pkg/httpapi"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

// DefaultListenAddr is the overlay mesh's admission port, per spec.md §6.
const DefaultListenAddr = ":51820"

// Server exposes peer admission and candidate exchange over HTTP, backed
// by the Peer/CIDR CRDT records.
type Server struct {
	state *state.Client
}

func NewServer(st *state.Client) *Server {
	return &Server{state: st}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpapi.Authorize)
	r.Post("/join", s.handleJoin)
	r.Post("/leave", s.handleLeave)
	r.Get("/fetch", s.handleFetch)
	r.Get("/bootstrap", s.handleBootstrap)
	r.Post("/{ip}/candidates", s.handleCandidates)
	return r
}

type joinRequest struct {
	PeerAddress string                `json:"peer_address"`
	PublicKey   string                `json:"public_key"`
	PeerType    types.PeerType        `json:"peer_type"`
	CIDR        string                `json:"cidr"`
	Candidates  []types.CandidateEndpoint `json:"candidates"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	signer, ok := httpapi.SignerFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, apierrors.Unauthorized("missing signer", nil))
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apierrors.BadRequest("invalid join request", err))
		return
	}

	peer := types.Peer{
		Address:    signer,
		PeerType:   req.PeerType,
		Candidates: req.Candidates,
		CIDR:       req.CIDR,
		LastSeen:   time.Now(),
	}
	if err := s.state.Put(r.Context(), state.KindPeer, signer.String(), peer); err != nil {
		httpapi.WriteError(w, apierrors.Internal("failed to persist peer", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, peer)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	signer, ok := httpapi.SignerFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, apierrors.Unauthorized("missing signer", nil))
		return
	}
	var peer types.Peer
	if err := s.state.Get(r.Context(), state.KindPeer, signer.String(), &peer); err != nil {
		httpapi.WriteError(w, apierrors.NotFound("peer not found", err))
		return
	}
	peer.LastSeen = time.Time{}
	peer.Candidates = nil
	if err := s.state.Put(r.Context(), state.KindPeer, signer.String(), peer); err != nil {
		httpapi.WriteError(w, apierrors.Internal("failed to persist leave", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"left": true})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	signer, ok := httpapi.SignerFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, apierrors.Unauthorized("missing signer", nil))
		return
	}
	var peer types.Peer
	if err := s.state.Get(r.Context(), state.KindPeer, signer.String(), &peer); err != nil {
		httpapi.WriteError(w, apierrors.NotFound("peer not found", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, peer)
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	// The datastore server already exposes /bootstrap/full_state; the mesh
	// endpoint here only forwards the caller to the authoritative source
	// rather than duplicating the listing logic.
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"bootstrap_via": "GET /bootstrap/full_state on the state datastore"})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	var candidates []types.CandidateEndpoint
	if err := json.NewDecoder(r.Body).Decode(&candidates); err != nil {
		httpapi.WriteError(w, apierrors.BadRequest("invalid candidates body", err))
		return
	}

	signer, ok := httpapi.SignerFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, apierrors.Unauthorized("missing signer", nil))
		return
	}
	var peer types.Peer
	if err := s.state.Get(r.Context(), state.KindPeer, signer.String(), &peer); err != nil {
		httpapi.WriteError(w, apierrors.NotFound("peer not found", err))
		return
	}
	peer.Candidates = candidates
	peer.OverlayIP = parseIPOrNil(ip)
	peer.LastSeen = time.Now()
	if err := s.state.Put(r.Context(), state.KindPeer, signer.String(), peer); err != nil {
		httpapi.WriteError(w, apierrors.Internal("failed to persist candidates", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, peer)
}
