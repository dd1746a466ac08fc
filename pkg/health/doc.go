/*
Package health implements HTTP, TCP, and exec probes against live
instance endpoints, generalizing the teacher's container health
checks from the container runtime to arbitrary reachable addresses.

# Checkers

All three implement the Checker interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker requests a URL and considers a configurable status range
healthy; TCPChecker dials an address and considers a successful
connection healthy; ExecChecker runs a command and considers exit code
0 healthy. Each returns a Result{Healthy, Message, CheckedAt, Duration}.

# Status tracking

Status applies hysteresis over a stream of Results so a single
transient failure doesn't flip a target unhealthy:

	status := health.NewStatus()
	config := health.DefaultConfig() // Interval 30s, Timeout 10s, Retries 3

	result := checker.Check(ctx)
	status.Update(result, config)
	if !status.Healthy {
		// ConsecutiveFailures has reached config.Retries
	}

StartPeriod gives a newly started target a grace period during which
InStartPeriod(config) reports true and checks should be skipped.

# DNS integration

InstanceChecker adapts TCPChecker, with a short-TTL result cache, to
pkg/dns's HealthChecker interface (IsHealthy(value string) bool), so
the DNS resolver can drop unreachable record values from its answers
without dialing every backend on every query.
*/
package health
