/*
Package dns implements fabric's DNS authority: an authoritative resolver
for DnsRecord entries replicated through pkg/state, forwarding every other
query upstream unconditionally.

# Resolution flow

	Query: api.example.com
	  ↓
	1. DNS server receives query on :5354
	  ↓
	2. Resolver looks up the DnsRecord keyed by the lowercased query name
	3a. Found: filter unhealthy values, geo-sort the rest, build RRs
	3b. Not found: forward to upstream DNS
	  ↓
	4. Response returned to client

Unlike the teacher's service-discovery DNS, there is no local-vs-external
domain split: any hostname with a registered DnsRecord is authoritative,
everything else forwards.

# Geo-sort

When a GeoIP database is configured, candidate values are ordered by
great-circle distance from the querying client's IP, so a multi-region
deployment returns its nearest instance first. Without a database, or for
clients whose GeoIP lookup fails, the resolver falls back to a random
shuffle for simple load spreading.

# Health filtering

A HealthChecker, when configured, drops record values that are not
currently reachable before the geo-sort step runs.
*/
package dns
