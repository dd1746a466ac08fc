package dns

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/oschwald/geoip2-golang"

	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

func unmarshalValue(reg state.Register, v any) error {
	return json.Unmarshal(reg.ValueJSON, v)
}

var dnsLog = log.WithComponent("dns")

// HealthChecker reports whether a given record value (host:port or bare
// IP) is currently reachable, so the resolver can drop unhealthy backends
// from its answers. Generalized from the teacher's pkg/health TCP/HTTP
// checkers, which probed container health instead of instance endpoints.
type HealthChecker interface {
	IsHealthy(value string) bool
}

// Resolver answers DNS queries from the DnsRecord CRDT entries, replacing
// the teacher's Warren-service/container resolution with authoritative
// lookups against fabric's replicated record set.
type Resolver struct {
	store    *state.Store
	domain   string
	upstream []string
	rnd      *rand.Rand
	geo      *geoip2.Reader // optional, nil disables geo-sort
	health   HealthChecker  // optional, nil disables health filtering
}

// NewResolver creates a resolver over store. geoDBPath may be empty to
// disable GeoIP-based candidate ordering.
func NewResolver(store *state.Store, domain string, upstream []string, geoDBPath string, health HealthChecker) (*Resolver, error) {
	r := &Resolver{
		store:    store,
		domain:   domain,
		upstream: upstream,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		health:   health,
	}
	if geoDBPath != "" {
		geo, err := geoip2.Open(geoDBPath)
		if err != nil {
			return nil, fmt.Errorf("dns: open geoip database: %w", err)
		}
		r.geo = geo
	}
	return r, nil
}

func (r *Resolver) Close() error {
	if r.geo != nil {
		return r.geo.Close()
	}
	return nil
}

// Resolve answers a DNS query name against the DnsRecord registry. It
// returns an error if the domain is not one fabric is authoritative for,
// so the caller can forward the query upstream unconditionally.
func (r *Resolver) Resolve(queryName string, clientIP net.IP) ([]dns.RR, error) {
	name := strings.ToLower(strings.TrimSuffix(queryName, "."))
	dnsLog.Debug().Str("query", name).Msg("resolving dns query")

	reg, ok, err := r.store.Get(state.KindDnsRecord, name)
	if err != nil {
		return nil, fmt.Errorf("dns: lookup %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("dns: no authoritative record for %s", name)
	}

	var rec types.DnsRecord
	if err := unmarshalValue(reg, &rec); err != nil {
		return nil, err
	}

	values := r.filterHealthy(rec.Values)
	if len(values) == 0 {
		return nil, fmt.Errorf("dns: no healthy targets for %s", name)
	}
	r.sortByDistance(values, clientIP)

	fqdn := r.makeFQDN(name)
	switch rec.RecordType {
	case types.DnsRecordA:
		return r.buildARecords(fqdn, values, rec.TTL), nil
	case types.DnsRecordAAAA:
		return r.buildAAAARecords(fqdn, values, rec.TTL), nil
	case types.DnsRecordCNAME:
		return r.buildCNAMERecords(fqdn, values, rec.TTL), nil
	default:
		return nil, fmt.Errorf("dns: unsupported record type %s", rec.RecordType)
	}
}

func (r *Resolver) filterHealthy(values []string) []string {
	if r.health == nil {
		return values
	}
	var out []string
	for _, v := range values {
		if r.health.IsHealthy(v) {
			out = append(out, v)
		}
	}
	return out
}

// sortByDistance orders values by GeoIP distance to clientIP when a GeoIP
// database is loaded, falling back to a random shuffle for even load
// spreading (the teacher's round-robin behavior, generalized).
func (r *Resolver) sortByDistance(values []string, clientIP net.IP) {
	if r.geo == nil || clientIP == nil {
		r.rnd.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
		return
	}
	clientRecord, err := r.geo.City(clientIP)
	if err != nil {
		r.rnd.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
		return
	}
	type scored struct {
		value string
		dist  float64
	}
	scoredValues := make([]scored, 0, len(values))
	for _, v := range values {
		ip := net.ParseIP(stripPort(v))
		dist := 1e9
		if ip != nil {
			if rec, err := r.geo.City(ip); err == nil {
				dist = haversine(clientRecord.Location.Latitude, clientRecord.Location.Longitude, rec.Location.Latitude, rec.Location.Longitude)
			}
		}
		scoredValues = append(scoredValues, scored{value: v, dist: dist})
	}
	for i := 1; i < len(scoredValues); i++ {
		for j := i; j > 0 && scoredValues[j].dist < scoredValues[j-1].dist; j-- {
			scoredValues[j], scoredValues[j-1] = scoredValues[j-1], scoredValues[j]
		}
	}
	for i, s := range scoredValues {
		values[i] = s.value
	}
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	sinLat, sinLon := math.Sin(dLat/2), math.Sin(dLon/2)
	a := sinLat*sinLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sinLon*sinLon
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func (r *Resolver) buildARecords(fqdn string, values []string, ttl uint32) []dns.RR {
	var records []dns.RR
	for _, v := range values {
		ip := net.ParseIP(stripPort(v)).To4()
		if ip == nil {
			continue
		}
		records = append(records, &dns.A{
			Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   ip,
		})
	}
	return records
}

func (r *Resolver) buildAAAARecords(fqdn string, values []string, ttl uint32) []dns.RR {
	var records []dns.RR
	for _, v := range values {
		ip := net.ParseIP(stripPort(v)).To16()
		if ip == nil {
			continue
		}
		records = append(records, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: fqdn, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
			AAAA: ip,
		})
	}
	return records
}

func (r *Resolver) buildCNAMERecords(fqdn string, values []string, ttl uint32) []dns.RR {
	var records []dns.RR
	for _, v := range values {
		records = append(records, &dns.CNAME{
			Hdr:    dns.RR_Header{Name: fqdn, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
			Target: r.makeFQDN(v),
		})
	}
	return records
}

func (r *Resolver) makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
