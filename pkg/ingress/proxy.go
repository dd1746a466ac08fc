package ingress

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

var ingressLog = log.WithComponent("ingress")

const (
	// DefaultHTTPAddr is the plaintext listener per spec.md's reverse proxy.
	DefaultHTTPAddr = ":80"
	// DefaultHTTPSAddr is the TLS listener, served once an ACME certificate
	// has been obtained for at least one host.
	DefaultHTTPSAddr = ":443"
)

// Proxy is fabric's reverse proxy: it routes by Host header to the
// Instance backends registered under a DnsRecord, generalized from the
// teacher's manager-backed Proxy (which queried containers over gRPC) down
// to routing directly over replicated state.
type Proxy struct {
	store       *state.Store
	router      *Router
	lb          *LoadBalancer
	httpServer  *http.Server
	httpsServer *http.Server
	tlsConfig   *tls.Config
	certs       []tls.Certificate
	challenges  *HTTP01Provider
	mu          sync.RWMutex
}

// SetChallengeProvider wires an ACME HTTP-01 provider so incoming
// .well-known/acme-challenge requests are answered before DNS routing runs.
func (p *Proxy) SetChallengeProvider(provider *HTTP01Provider) {
	p.mu.Lock()
	p.challenges = provider
	p.mu.Unlock()
}

// NewProxy creates a new ingress proxy over store, loading its initial host
// routing table from the currently replicated DnsRecord entries.
func NewProxy(store *state.Store) (*Proxy, error) {
	p := &Proxy{
		store: store,
		lb:    NewLoadBalancer(),
	}

	records, err := p.loadRecords()
	if err != nil {
		return nil, fmt.Errorf("ingress: load dns records: %w", err)
	}
	p.router = NewRouter(records)

	return p, nil
}

func (p *Proxy) loadRecords() (map[string][]string, error) {
	regs, err := p.store.List(state.KindDnsRecord)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(regs))
	for _, reg := range regs {
		var rec types.DnsRecord
		if err := json.Unmarshal(reg.ValueJSON, &rec); err != nil {
			ingressLog.Warn().Err(err).Msg("skipping unparseable dns record")
			continue
		}
		if rec.RecordType != types.DnsRecordA && rec.RecordType != types.DnsRecordAAAA {
			continue
		}
		out[rec.Domain] = rec.Values
	}
	return out, nil
}

// ReloadRecords re-reads the DnsRecord routing table from state. Callers
// invoke this after observing a gossip update on the dns_records kind.
func (p *Proxy) ReloadRecords() error {
	records, err := p.loadRecords()
	if err != nil {
		return fmt.Errorf("ingress: reload dns records: %w", err)
	}
	p.router.UpdateRecords(records)
	ingressLog.Info().Int("hosts", len(records)).Msg("reloaded dns-backed routing table")
	return nil
}

// Start starts the HTTP listener, and the HTTPS listener once a
// certificate has been loaded via LoadCertificate. It blocks until ctx is
// cancelled.
func (p *Proxy) Start(ctx context.Context) error {
	p.httpServer = &http.Server{
		Addr:         DefaultHTTPAddr,
		Handler:      http.HandlerFunc(p.handleRequest),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	httpListener, err := net.Listen("tcp", p.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("ingress: listen %s: %w", p.httpServer.Addr, err)
	}

	ingressLog.Info().Str("address", DefaultHTTPAddr).Msg("ingress proxy listening (http)")
	go func() {
		if err := p.httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			ingressLog.Error().Err(err).Msg("http server error")
		}
	}()

	p.mu.RLock()
	tlsConfig := p.tlsConfig
	p.mu.RUnlock()
	if tlsConfig != nil {
		if err := p.startHTTPS(tlsConfig); err != nil {
			ingressLog.Warn().Err(err).Msg("failed to start https listener")
		}
	}

	<-ctx.Done()
	ingressLog.Info().Msg("shutting down ingress proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		ingressLog.Error().Err(err).Msg("failed to shut down http server")
	}
	if p.httpsServer != nil {
		if err := p.httpsServer.Shutdown(shutdownCtx); err != nil {
			ingressLog.Error().Err(err).Msg("failed to shut down https server")
		}
	}

	return nil
}

func (p *Proxy) startHTTPS(tlsConfig *tls.Config) error {
	p.httpsServer = &http.Server{
		Addr:         DefaultHTTPSAddr,
		Handler:      http.HandlerFunc(p.handleRequest),
		TLSConfig:    tlsConfig,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	httpsListener, err := net.Listen("tcp", p.httpsServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.httpsServer.Addr, err)
	}

	ingressLog.Info().Str("address", DefaultHTTPSAddr).Msg("ingress proxy listening (https)")
	go func() {
		tlsListener := tls.NewListener(httpsListener, tlsConfig)
		if err := p.httpsServer.Serve(tlsListener); err != nil && err != http.ErrServerClosed {
			ingressLog.Error().Err(err).Msg("https server error")
		}
	}()
	return nil
}

const acmeChallengePrefix = "/.well-known/acme-challenge/"

func (p *Proxy) handleRequest(w http.ResponseWriter, r *http.Request) {
	host := r.Host

	if strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		p.mu.RLock()
		provider := p.challenges
		p.mu.RUnlock()
		if provider != nil {
			token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
			if keyAuth, ok := provider.GetKeyAuth(host, token); ok {
				w.Write([]byte(keyAuth))
				return
			}
		}
	}

	backends, ok := p.router.Route(host)
	if !ok {
		ingressLog.Warn().Str("host", host).Msg("no dns record for host")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	backendAddr, err := p.lb.Select(host, backends)
	if err != nil {
		ingressLog.Error().Err(err).Str("host", host).Msg("failed to select backend")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := proxyRequest(w, r, backendAddr); err != nil {
		ingressLog.Error().Err(err).Str("backend", backendAddr).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
}

func proxyRequest(w http.ResponseWriter, r *http.Request, backendAddr string) error {
	if _, _, err := net.SplitHostPort(backendAddr); err != nil {
		backendAddr = net.JoinHostPort(backendAddr, "80")
	}

	targetURL, err := url.Parse(fmt.Sprintf("http://%s", backendAddr))
	if err != nil {
		return fmt.Errorf("invalid backend address: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = r.Host
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", r.Host)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		ingressLog.Error().Err(err).Str("backend", backendAddr).Msg("proxy round trip failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	proxy.ServeHTTP(w, r)
	return nil
}

// LoadCertificate installs a certificate obtained by the ACME client,
// (re)starting the HTTPS listener if this is the first one loaded.
func (p *Proxy) LoadCertificate(cert tls.Certificate) {
	p.mu.Lock()
	p.certs = append(p.certs, cert)
	p.tlsConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
		Certificates: p.certs,
	}
	tlsConfig := p.tlsConfig
	alreadyRunning := p.httpsServer != nil
	p.mu.Unlock()

	if alreadyRunning {
		p.httpsServer.TLSConfig = tlsConfig
		ingressLog.Info().Msg("reloaded tls certificate")
		return
	}

	if err := p.startHTTPS(tlsConfig); err != nil {
		ingressLog.Warn().Err(err).Msg("failed to start https listener after cert load")
	}
}
