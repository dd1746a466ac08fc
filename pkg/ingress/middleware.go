package ingress

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HeaderRules describes request header add/set/remove rules applied before
// a request is proxied to its backend.
type HeaderRules struct {
	Add    map[string]string
	Set    map[string]string
	Remove []string
}

// PathRewrite describes a request path transformation applied before
// proxying.
type PathRewrite struct {
	StripPrefix string
	ReplacePath string
}

// RateLimit configures a per-client-IP token bucket.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// AccessControl configures CIDR allow/deny lists for a host.
type AccessControl struct {
	AllowedIPs []string
	DeniedIPs  []string
}

// Middleware applies header manipulation, path rewriting, rate limiting,
// and IP access control ahead of proxying, generalized unchanged from the
// teacher's Ingress-scoped Middleware — these concerns are orthogonal to
// how a backend was resolved.
type Middleware struct {
	rateLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewMiddleware creates a new middleware handler.
func NewMiddleware() *Middleware {
	return &Middleware{rateLimiters: make(map[string]*rate.Limiter)}
}

// ApplyHeaderManipulation applies header manipulation rules to the request.
func (m *Middleware) ApplyHeaderManipulation(r *http.Request, config *HeaderRules) {
	if config == nil {
		return
	}

	for key, value := range config.Add {
		if r.Header.Get(key) == "" {
			r.Header.Set(key, value)
		}
	}
	for key, value := range config.Set {
		r.Header.Set(key, value)
	}
	for _, key := range config.Remove {
		r.Header.Del(key)
	}
}

// AddProxyHeaders adds standard proxy headers (X-Forwarded-For, X-Real-IP, etc).
func (m *Middleware) AddProxyHeaders(r *http.Request) {
	clientIP := getClientIP(r)

	if r.Header.Get("X-Real-IP") == "" {
		r.Header.Set("X-Real-IP", clientIP)
	}

	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		r.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		r.Header.Set("X-Forwarded-For", clientIP)
	}

	if r.Header.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		r.Header.Set("X-Forwarded-Proto", proto)
	}

	if r.Header.Get("X-Forwarded-Host") == "" {
		r.Header.Set("X-Forwarded-Host", r.Host)
	}
}

// ApplyPathRewrite applies path rewriting rules to the request.
func (m *Middleware) ApplyPathRewrite(r *http.Request, config *PathRewrite) {
	if config == nil {
		return
	}

	originalRawQuery := r.URL.RawQuery

	if config.ReplacePath != "" {
		r.URL.Path = config.ReplacePath
	} else if config.StripPrefix != "" && strings.HasPrefix(r.URL.Path, config.StripPrefix) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, config.StripPrefix)
		if !strings.HasPrefix(r.URL.Path, "/") {
			r.URL.Path = "/" + r.URL.Path
		}
	}

	r.URL.RawQuery = originalRawQuery
}

// CheckRateLimit reports whether the request is within its per-client rate
// limit, creating a new limiter for previously unseen client IPs.
func (m *Middleware) CheckRateLimit(r *http.Request, config *RateLimit) bool {
	if config == nil {
		return true
	}

	clientIP := getClientIP(r)

	m.mu.Lock()
	limiter, exists := m.rateLimiters[clientIP]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
		m.rateLimiters[clientIP] = limiter
	}
	m.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		ingressLog.Warn().Str("client_ip", clientIP).Msg("rate limit exceeded")
	}
	return allowed
}

// CheckAccessControl reports whether the request's client IP passes the
// configured allow/deny lists.
func (m *Middleware) CheckAccessControl(r *http.Request, config *AccessControl) (bool, string) {
	if config == nil {
		return true, ""
	}

	clientIP := getClientIP(r)
	ip := net.ParseIP(clientIP)
	if ip == nil {
		ingressLog.Warn().Str("client_ip", clientIP).Msg("invalid client ip")
		return false, "invalid client ip"
	}

	for _, cidr := range config.DeniedIPs {
		if matchCIDR(ip, cidr) {
			return false, "access denied by ip filter"
		}
	}

	if len(config.AllowedIPs) > 0 {
		for _, cidr := range config.AllowedIPs {
			if matchCIDR(ip, cidr) {
				return true, ""
			}
		}
		return false, "access denied by ip filter"
	}

	return true, ""
}

// CleanupRateLimiters drops every tracked rate limiter once more than 10000
// are held; a client seen again afterwards gets a new limiter with a full
// bucket.
func (m *Middleware) CleanupRateLimiters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.rateLimiters) > 10000 {
		ingressLog.Info().Int("count", len(m.rateLimiters)).Msg("clearing rate limiters")
		m.rateLimiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanupJob starts a background job to clean up old rate limiters.
func (m *Middleware) StartCleanupJob(done <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupRateLimiters()
			case <-done:
				return
			}
		}
	}()
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		parsedIP := net.ParseIP(cidr)
		if parsedIP == nil {
			return false
		}
		return ip.Equal(parsedIP)
	}

	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		ingressLog.Warn().Str("cidr", cidr).Msg("invalid cidr")
		return false
	}

	return ipNet.Contains(ip)
}
