/*
Package ingress implements fabric's reverse proxy: an HTTP/HTTPS router
that forwards inbound traffic to Instance backends published under a
DnsRecord, with ACME-issued TLS termination and per-host middleware.

# Request flow

	Client request → :80 (HTTP) or :443 (HTTPS)
	  ↓
	1. ACME HTTP-01 challenges answered directly, before routing
	2. Router matches the Host header against the DnsRecord table
	3. LoadBalancer round-robins across the record's backend values
	4. Request proxied to the selected backend
	5. Response returned to client

Unlike the teacher's Ingress/IngressPath rule model, there is no
path-based routing: a DnsRecord maps one hostname (or "*.host" wildcard)
to a set of backend addresses, mirroring how formnet peers and VMM
instances publish themselves under pkg/state.

# Components

Router resolves a Host header to its backend address set, rebuilt
whenever the caller observes a dns_records gossip update.

LoadBalancer performs per-host round-robin selection over a Router match.

ACMEClient wraps go-acme/lego for HTTP-01 certificate issuance and
renewal; issued certificates are encrypted at rest with
pkg/security.SecretsManager since fabric has no replicated
certificate-store entity — each proxy node manages its own certs.

Middleware applies header manipulation, path rewriting, rate limiting,
and CIDR-based access control ahead of proxying.
*/
package ingress
