package dns

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putDNSRecord(t *testing.T, store *state.Store, rec types.DnsRecord) {
	t.Helper()
	valueJSON, err := json.Marshal(rec)
	require.NoError(t, err)
	reg := state.Register{ValueJSON: valueJSON, Timestamp: time.Now()}
	_, err = store.Merge(state.KindDnsRecord, rec.Domain, reg)
	require.NoError(t, err)
}

func TestResolverResolvesARecord(t *testing.T) {
	store := newTestStore(t)
	putDNSRecord(t, store, types.DnsRecord{
		Domain:     "api.example.com",
		RecordType: types.DnsRecordA,
		Values:     []string{"10.0.0.1", "10.0.0.2"},
		TTL:        30,
	})

	r, err := NewResolver(store, "", nil, "", nil)
	require.NoError(t, err)

	rrs, err := r.Resolve("api.example.com.", net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.Len(t, rrs, 2)
}

func TestResolverUnknownDomainErrors(t *testing.T) {
	store := newTestStore(t)
	r, err := NewResolver(store, "", nil, "", nil)
	require.NoError(t, err)

	_, err = r.Resolve("unregistered.example.com.", nil)
	require.Error(t, err)
}

type alwaysUnhealthy struct{}

func (alwaysUnhealthy) IsHealthy(string) bool { return false }

func TestResolverFiltersUnhealthyValues(t *testing.T) {
	store := newTestStore(t)
	putDNSRecord(t, store, types.DnsRecord{
		Domain:     "svc.example.com",
		RecordType: types.DnsRecordA,
		Values:     []string{"10.0.0.1"},
		TTL:        30,
	})

	r, err := NewResolver(store, "", nil, "", alwaysUnhealthy{})
	require.NoError(t, err)

	_, err = r.Resolve("svc.example.com", nil)
	require.Error(t, err)
}
