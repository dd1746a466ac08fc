package ingress

import (
	"fmt"
	"sync"
)

// LoadBalancer round-robins across the backend addresses a Router resolves
// for a host, generalized from the teacher's container-aware LoadBalancer
// (which queried the manager over gRPC for service containers) down to
// plain address selection over the candidate addresses the caller passes
// in; it does no health filtering of its own.
type LoadBalancer struct {
	mu      sync.Mutex
	indexes map[string]int // host -> next index
}

// NewLoadBalancer creates a new load balancer.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{indexes: make(map[string]int)}
}

// Select picks the next backend address for host using round-robin over
// the given candidate set.
func (lb *LoadBalancer) Select(host string, backends []string) (string, error) {
	if len(backends) == 0 {
		return "", fmt.Errorf("ingress: no backends available for host %s", host)
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	index := lb.indexes[host] % len(backends)
	lb.indexes[host] = (index + 1) % len(backends)

	return backends[index], nil
}
