// Package httpapi holds the chi-based server helpers shared by every
// control-plane HTTP server in fabric: a stable JSON error envelope, an
// Authorization-header verification middleware, and response helpers.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cuemby/fabric/pkg/apierrors"
	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/types"
)

var httpLog = log.WithComponent("httpapi")

// errorResponse is the stable JSON error shape returned by every handler.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON error body with the status code derived
// from its apierrors.Kind.
func WriteError(w http.ResponseWriter, err error) {
	kind := apierrors.KindOf(err)
	status := apierrors.StatusCode(kind)
	httpLog.Error().Err(err).Msg("request failed")
	WriteJSON(w, status, errorResponse{Error: err.Error()})
}

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type signerKey struct{}

// SignerFrom returns the address recovered from the request's Authorization
// header, previously stashed by the Authorize middleware.
func SignerFrom(ctx context.Context) (types.Address, bool) {
	addr, ok := ctx.Value(signerKey{}).(types.Address)
	return addr, ok
}

// Authorize is HTTP middleware that recovers the signer address from the
// Authorization header (or bypasses verification for loopback callers) and
// stashes it in the request context for downstream capability checks.
func Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if envelope.IsLoopback(r.RemoteAddr) && r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			WriteError(w, apierrors.Unauthorized("missing Authorization header", nil))
			return
		}
		addr, _, err := envelope.Verify(header)
		if err != nil {
			WriteError(w, apierrors.Unauthorized("invalid signature", err))
			return
		}
		ctx := context.WithValue(r.Context(), signerKey{}, addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
