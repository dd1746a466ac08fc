package ingress

import "strings"

// Router resolves a request Host header to the DnsRecord authoritative for
// it, generalized from the teacher's path-aware Ingress-rule router (which
// matched Warren Ingress/IngressPath records) down to fabric's simpler
// host-only routing over DnsRecord entries.
type Router struct {
	records map[string][]string // host -> backend values (ip or ip:port)
}

// NewRouter builds a router over the given host -> backend-values map.
func NewRouter(records map[string][]string) *Router {
	return &Router{records: records}
}

// Route returns the backend values registered for host, matching either an
// exact hostname or the closest "*.example.com"-style wildcard.
func (r *Router) Route(host string) ([]string, bool) {
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}

	if values, ok := r.records[host]; ok {
		return values, true
	}

	dot := strings.IndexByte(host, '.')
	for dot != -1 {
		wildcard := "*" + host[dot:]
		if values, ok := r.records[wildcard]; ok {
			return values, true
		}
		next := strings.IndexByte(host[dot+1:], '.')
		if next == -1 {
			break
		}
		dot = dot + 1 + next
	}
	return nil, false
}

// UpdateRecords replaces the router's host table, called whenever the
// DnsRecord registry changes.
func (r *Router) UpdateRecords(records map[string][]string) {
	r.records = records
}
