// Package metrics implements MetricsSink: per-participant wall-clock and
// byte accounting, split into compute time (inside GroupArith) and
// network-wait time (blocked in a bus Recv), plus a Prometheus registry
// so a long parameter sweep can be scraped instead of only read back
// in-process.
package metrics

import (
	"strconv"
	"sync/atomic"

	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink accumulates one participant's metrics. It is safe for concurrent
// use: a Participant's own goroutine is the only writer, but the
// Coordinator reads a Snapshot from a different goroutine once the run
// finishes.
type Sink struct {
	computeNs     int64
	networkWaitNs int64
	bytesSent     int64
	bytesRecv     int64

	computeHist prometheus.Histogram
	waitHist    prometheus.Histogram
	sentCounter prometheus.Counter
	recvCounter prometheus.Counter
}

// New returns a Sink registered under participantID in registry.
// registry may be nil, in which case the Prometheus collectors are
// created but never scraped.
func New(participantID int, registry *prometheus.Registry) *Sink {
	id := strconv.Itoa(participantID)
	s := &Sink{
		computeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lagrange_participant_compute_seconds",
			Help:        "Wall-clock time spent inside GroupArith calls.",
			ConstLabels: prometheus.Labels{"participant": id},
			Buckets:     prometheus.DefBuckets,
		}),
		waitHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lagrange_participant_network_wait_seconds",
			Help:        "Wall-clock time spent blocked in bus.Recv.",
			ConstLabels: prometheus.Labels{"participant": id},
			Buckets:     prometheus.DefBuckets,
		}),
		sentCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lagrange_participant_bytes_sent_total",
			Help:        "Bytes sent on the bus.",
			ConstLabels: prometheus.Labels{"participant": id},
		}),
		recvCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lagrange_participant_bytes_recv_total",
			Help:        "Bytes received on the bus.",
			ConstLabels: prometheus.Labels{"participant": id},
		}),
	}
	if registry != nil {
		registry.MustRegister(s.computeHist, s.waitHist, s.sentCounter, s.recvCounter)
	}
	return s
}

// ObserveCompute implements group.ComputeObserver.
func (s *Sink) ObserveCompute(d time.Duration) {
	atomic.AddInt64(&s.computeNs, d.Nanoseconds())
	s.computeHist.Observe(d.Seconds())
}

// ObserveWait records time spent blocked in a bus Recv.
func (s *Sink) ObserveWait(d time.Duration) {
	atomic.AddInt64(&s.networkWaitNs, d.Nanoseconds())
	s.waitHist.Observe(d.Seconds())
}

// AddBytesSent records bytes handed to the bus for sending.
func (s *Sink) AddBytesSent(n int) {
	atomic.AddInt64(&s.bytesSent, int64(n))
	s.sentCounter.Add(float64(n))
}

// AddBytesRecv records bytes delivered by the bus.
func (s *Sink) AddBytesRecv(n int) {
	atomic.AddInt64(&s.bytesRecv, int64(n))
	s.recvCounter.Add(float64(n))
}

// Snapshot is a point-in-time read of a Sink's accumulators.
type Snapshot struct {
	ComputeNs     int64
	NetworkWaitNs int64
	BytesSent     int64
	BytesRecv     int64
}

// Snapshot returns the accumulators' current values.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		ComputeNs:     atomic.LoadInt64(&s.computeNs),
		NetworkWaitNs: atomic.LoadInt64(&s.networkWaitNs),
		BytesSent:     atomic.LoadInt64(&s.bytesSent),
		BytesRecv:     atomic.LoadInt64(&s.bytesRecv),
	}
}

// Merge sums per-participant snapshots into a single run-level total, as
// spec.md §4.5 describes the Coordinator doing across all participants.
func Merge(snapshots []Snapshot) Snapshot {
	var out Snapshot
	for _, s := range snapshots {
		out.ComputeNs += s.ComputeNs
		out.NetworkWaitNs += s.NetworkWaitNs
		out.BytesSent += s.BytesSent
		out.BytesRecv += s.BytesRecv
	}
	return out
}
