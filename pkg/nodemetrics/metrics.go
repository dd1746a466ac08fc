package nodemetrics

import "github.com/prometheus/client_golang/prometheus"

// These gauges carry the lightweight per-resource metrics spec.md §4.10
// describes alongside the replicated Capacity snapshot: load averages,
// per-disk I/O, and per-NIC counters are useful for local dashboards and
// alerting but are not consumed by pkg/matcher's scheduling decisions, so
// they are exposed for scrape rather than replicated into the CRDT store,
// generalizing the teacher's pkg/metrics gauge set from cluster-object
// counts to host resource observability.
var (
	LoadAverage1 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_node_load1",
		Help: "1-minute load average of the local node.",
	})
	LoadAverage5 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_node_load5",
		Help: "5-minute load average of the local node.",
	})
	LoadAverage15 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_node_load15",
		Help: "15-minute load average of the local node.",
	})

	DiskReadBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabric_node_disk_read_bytes_total",
		Help: "Cumulative bytes read per disk device.",
	}, []string{"device"})
	DiskWriteBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabric_node_disk_write_bytes_total",
		Help: "Cumulative bytes written per disk device.",
	}, []string{"device"})

	NICBytesSent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabric_node_nic_bytes_sent_total",
		Help: "Cumulative bytes sent per network interface.",
	}, []string{"interface"})
	NICBytesRecv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabric_node_nic_bytes_recv_total",
		Help: "Cumulative bytes received per network interface.",
	}, []string{"interface"})
)

func init() {
	prometheus.MustRegister(
		LoadAverage1, LoadAverage5, LoadAverage15,
		DiskReadBytes, DiskWriteBytes,
		NICBytesSent, NICBytesRecv,
	)
}
