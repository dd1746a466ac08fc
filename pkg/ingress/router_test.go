package ingress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouterExactMatch(t *testing.T) {
	r := NewRouter(map[string][]string{
		"api.example.com": {"10.0.0.1", "10.0.0.2"},
	})

	backends, ok := r.Route("api.example.com")
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, backends)
}

func TestRouterStripsPort(t *testing.T) {
	r := NewRouter(map[string][]string{
		"api.example.com": {"10.0.0.1"},
	})

	backends, ok := r.Route("api.example.com:8443")
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.1"}, backends)
}

func TestRouterWildcardMatch(t *testing.T) {
	r := NewRouter(map[string][]string{
		"*.apps.example.com": {"10.0.0.9"},
	})

	backends, ok := r.Route("myapp.apps.example.com")
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.9"}, backends)

	_, ok = r.Route("apps.example.com")
	require.False(t, ok, "wildcard should not match the bare root domain")

	_, ok = r.Route("other.com")
	require.False(t, ok)
}

func TestRouterNoMatch(t *testing.T) {
	r := NewRouter(map[string][]string{"example.com": {"10.0.0.1"}})

	_, ok := r.Route("unregistered.com")
	require.False(t, ok)
}

func TestRouterUpdateRecords(t *testing.T) {
	r := NewRouter(map[string][]string{"example.com": {"10.0.0.1"}})
	r.UpdateRecords(map[string][]string{"example.com": {"10.0.0.2"}})

	backends, ok := r.Route("example.com")
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.2"}, backends)
}
