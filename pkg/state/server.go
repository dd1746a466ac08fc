package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cuemby/fabric/pkg/httpapi"
	"github.com/cuemby/fabric/pkg/log"
)

var stateLog = log.WithComponent("state")

// DefaultPort is the control-plane port for the CRDT datastore, matching
// spec.md §6.
const DefaultPort = 3004

// PeerLister supplies the current gossip fan-out targets; in production
// this is backed by the Node bucket of the same Store.
type PeerLister func() []string

// Server exposes the Store over HTTP: per-kind CRUD, bulk merge for
// gossip, full-state bootstrap, and a best-effort websocket change feed.
type Server struct {
	store   *Store
	peers   PeerLister
	fanout  int
	upgrader websocket.Upgrader

	mu        sync.Mutex
	watchers  map[*websocket.Conn]bool
}

// NewServer wires a Store into an HTTP server. fanout is how many peers
// each gossip round pushes its delta log to.
func NewServer(store *Store, peers PeerLister, fanout int) *Server {
	return &Server{
		store:    store,
		peers:    peers,
		fanout:   fanout,
		watchers: make(map[*websocket.Conn]bool),
	}
}

// Routes returns the chi router implementing spec.md §6's CRDT routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpapi.Authorize)

	for _, kind := range allKinds {
		kind := kind
		r.Get("/"+string(kind), s.handleList(kind))
		r.Get("/"+string(kind)+"/{key}", s.handleGet(kind))
		r.Put("/"+string(kind)+"/{key}", s.handlePut(kind))
		r.Delete("/"+string(kind)+"/{key}", s.handleDelete(kind))
	}

	r.Post("/gossip/merge", s.handleGossipMerge)
	r.Get("/bootstrap/full_state", s.handleBootstrap)
	r.Get("/watch", s.handleWatch)

	return r
}

type entry struct {
	Kind Kind     `json:"kind"`
	Key  string   `json:"key"`
	Reg  Register `json:"register"`
}

func (s *Server) handleList(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regs, err := s.store.List(kind)
		if err != nil {
			httpapi.WriteError(w, err)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, regs)
	}
}

func (s *Server) handleGet(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		reg, ok, err := s.store.Get(kind, key)
		if err != nil {
			httpapi.WriteError(w, err)
			return
		}
		if !ok {
			httpapi.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, reg)
	}
}

func (s *Server) handlePut(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var reg Register
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := reg.Verify(); err != nil {
			httpapi.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		applied, err := s.store.Merge(kind, key, reg)
		if err != nil {
			httpapi.WriteError(w, err)
			return
		}
		if applied {
			s.broadcastWatch(entry{Kind: kind, Key: key, Reg: reg})
			go s.gossip(r.Context(), kind, key, reg)
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"applied": applied})
	}
}

func (s *Server) handleDelete(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := s.store.Delete(kind, key); err != nil {
			httpapi.WriteError(w, err)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

// handleGossipMerge accepts a batch of entries pushed by a peer's gossip
// round and merges each one locally.
func (s *Server) handleGossipMerge(w http.ResponseWriter, r *http.Request) {
	var entries []entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	applied := 0
	for _, e := range entries {
		if err := e.Reg.Verify(); err != nil {
			continue
		}
		ok, err := s.store.Merge(e.Kind, e.Key, e.Reg)
		if err != nil {
			stateLog.Warn().Err(err).Str("kind", string(e.Kind)).Msg("gossip merge failed")
			continue
		}
		if ok {
			applied++
			s.broadcastWatch(e)
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

// handleBootstrap streams every bucket's contents for a newly joining node.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	full := make(map[Kind]map[string]Register)
	for _, kind := range allKinds {
		regs, err := s.store.List(kind)
		if err != nil {
			httpapi.WriteError(w, err)
			return
		}
		full[kind] = regs
	}
	httpapi.WriteJSON(w, http.StatusOK, full)
}

// gossip pushes a single applied entry to a random subset of peers. This
// is best-effort: a failed push is logged and dropped, relying on the next
// write (or a future anti-entropy pass) to eventually reach the peer.
func (s *Server) gossip(ctx context.Context, kind Kind, key string, reg Register) {
	peers := s.peers()
	if len(peers) == 0 {
		return
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	n := s.fanout
	if n > len(peers) {
		n = len(peers)
	}
	body, err := json.Marshal([]entry{{Kind: kind, Key: key, Reg: reg}})
	if err != nil {
		return
	}
	for _, addr := range peers[:n] {
		url := fmt.Sprintf("http://%s/gossip/merge", addr)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			stateLog.Debug().Err(err).Str("peer", addr).Msg("gossip push failed")
			continue
		}
		resp.Body.Close()
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.watchers[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.watchers, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain reads so the client's close frames are observed; this watch
	// endpoint is write-only from the server's perspective.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastWatch(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.watchers) == 0 {
		return
	}
	for conn := range s.watchers {
		if err := conn.WriteJSON(e); err != nil {
			conn.Close()
			delete(s.watchers, conn)
		}
	}
}

// ReapOperations deletes every Operation entry whose TTL has elapsed.
// fabricd runs it once a minute with DecodeOperationExpiry of the tick time.
func (s *Server) ReapOperations(decode func(json.RawMessage) (expired bool, err error)) error {
	regs, err := s.store.List(KindOperation)
	if err != nil {
		return err
	}
	for key, reg := range regs {
		expired, err := decode(reg.ValueJSON)
		if err != nil {
			continue
		}
		if expired {
			if err := s.store.Delete(KindOperation, key); err != nil {
				stateLog.Warn().Err(err).Str("key", key).Msg("failed to reap operation")
			}
		}
	}
	return nil
}

// RunReaper runs ReapOperations every interval until ctx is cancelled.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration, decode func(json.RawMessage) (bool, error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.ReapOperations(decode); err != nil {
				stateLog.Warn().Err(err).Msg("operation reaper pass failed")
			}
		}
	}
}
