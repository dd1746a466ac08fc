package dns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"

	"github.com/cuemby/fabric/pkg/state"
)

const (
	// DefaultListenAddr is the fabric DNS authority's address per spec.md §6.
	DefaultListenAddr = "0.0.0.0:5354"

	// DefaultDomain is unused for zone stripping: fabric serves whatever
	// fully-qualified hostnames are registered as DnsRecord entries,
	// unlike the teacher's single "warren" search domain.
	DefaultDomain = ""

	// DefaultUpstream is the fallback resolver for non-authoritative names.
	DefaultUpstream = "8.8.8.8:53"
)

// Config holds DNS server configuration.
type Config struct {
	ListenAddr string
	Domain     string
	Upstream   []string
	GeoDBPath  string
	Health     HealthChecker
}

// Server is fabric's DNS authority: authoritative for DnsRecord entries,
// forwarding everything else upstream. Generalized from the teacher's
// Warren-service resolver (pkg/dns), which only ever forwarded on
// resolution failure for A-type queries.
type Server struct {
	store      *state.Store
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	upstream   []string
	mu         sync.RWMutex
	running    bool
}

// NewServer creates a new DNS authority server.
func NewServer(store *state.Store, config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	resolver, err := NewResolver(store, config.Domain, config.Upstream, config.GeoDBPath, config.Health)
	if err != nil {
		return nil, err
	}

	return &Server{
		store:      store,
		resolver:   resolver,
		listenAddr: config.ListenAddr,
		upstream:   config.Upstream,
	}, nil
}

// Start launches the DNS listener on a background goroutine and returns
// without waiting for it; ctx cancellation stops it.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("dns: server already running")
	}
	s.running = true
	s.mu.Unlock()

	dnsLog.Info().Str("address", s.listenAddr).Msg("starting dns server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{Addr: s.listenAddr, Net: "udp", Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			dnsLog.Error().Err(err).Msg("dns server error")
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	default:
		return nil
	}
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			return fmt.Errorf("dns: stop: %w", err)
		}
	}
	s.running = false
	_ = s.resolver.Close()
	return nil
}

func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	clientIP := clientIPFromAddr(w.RemoteAddr())

	for _, q := range r.Question {
		answers, err := s.resolver.Resolve(q.Name, clientIP)
		if err != nil {
			dnsLog.Debug().Err(err).Str("query", q.Name).Msg("not authoritative, forwarding upstream")
			s.forwardQuery(w, r)
			return
		}
		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		dnsLog.Error().Err(err).Msg("failed to write dns response")
	}
}

func clientIPFromAddr(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// forwardQuery forwards any query fabric is not authoritative for,
// unconditionally (unlike the teacher, which only forwarded non-A-type
// queries or resolution failures for the "warren" domain specifically).
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}
	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			dnsLog.Debug().Err(err).Str("upstream", upstream).Msg("upstream forward failed")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			dnsLog.Error().Err(err).Msg("failed to write forwarded dns response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		dnsLog.Error().Err(err).Msg("failed to write dns error response")
	}
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
