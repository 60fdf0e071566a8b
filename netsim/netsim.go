// Package netsim implements the LatencyShaper: a per-link wrapper that
// injects one-way delay, a bandwidth-capped token bucket, and optional
// message loss onto an otherwise reliable, ordered delivery path. It
// keeps the Participant and MessageBus unaware of whether they run over
// loopback or a simulated WAN.
package netsim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Profile is a NetworkProfile: one_way_delay_ms, bandwidth_bps (0 means
// unlimited), loss_probability in [0,1].
type Profile struct {
	OneWayDelay     time.Duration
	BandwidthBPS    int64 // 0 = unlimited
	LossProbability float64
}

// Named presets, grounded on original_source/network/network_simulator.py's
// NETWORK_CONDITIONS registry.
var (
	Local     = Profile{OneWayDelay: 0, BandwidthBPS: 0, LossProbability: 0}
	LAN       = Profile{OneWayDelay: 50 * time.Millisecond, BandwidthBPS: 0, LossProbability: 0}
	WAN       = Profile{OneWayDelay: 200 * time.Millisecond, BandwidthBPS: 10_000_000, LossProbability: 0}
	Satellite = Profile{OneWayDelay: 600 * time.Millisecond, BandwidthBPS: 1_000_000, LossProbability: 0.01}
)

type delivery struct {
	deliverAt time.Time
	dropped   bool
	payload   []byte
	deliver   func([]byte)
}

// Shaper applies a Profile to a single directed link between two
// endpoints. One Shaper instance must not be shared between different
// ordered (sender, receiver) pairs, since its FIFO guarantee and token
// bucket are scoped to one direction.
type Shaper struct {
	profile Profile

	mu            sync.Mutex
	tokens        float64
	lastRefill    time.Time
	lastDeliverAt time.Time

	rng *rand.Rand

	queue  chan delivery
	done   chan struct{}
	closed bool
}

// NewShaper starts a Shaper's delivery worker and returns it. Call Close
// to release the worker goroutine.
func NewShaper(profile Profile, seed int64) *Shaper {
	s := &Shaper{
		profile:    profile,
		tokens:     0, // the bucket starts empty, so the first send pays n/bandwidth
		lastRefill: time.Now(),
		rng:        rand.New(rand.NewSource(seed)),
		queue:      make(chan delivery, 1024),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// run is the single delivery worker. Messages are processed strictly in
// the order Dispatch enqueued them, so FIFO-per-pair holds regardless of
// goroutine scheduling jitter: the worker sleeps until each message's
// precomputed deliverAt before handing it to deliver.
func (s *Shaper) run() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			wait := time.Until(d.deliverAt)
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-s.done:
					timer.Stop()
					return
				}
			}
			if d.dropped {
				log.Debug().Msg("netsim: message dropped by loss simulation")
				continue
			}
			d.deliver(d.payload)
		}
	}
}

// Dispatch schedules payload for delivery via deliver, after the
// profile's one-way delay and bandwidth-cap wait, preserving FIFO order
// relative to every prior Dispatch call on this Shaper. It returns once
// the message has been scheduled, not once it has been delivered.
func (s *Shaper) Dispatch(ctx context.Context, payload []byte, deliver func([]byte)) {
	s.mu.Lock()

	bwWait := s.drainTokens(len(payload))
	now := time.Now()
	deliverAt := now.Add(s.profile.OneWayDelay).Add(bwWait)
	if deliverAt.Before(s.lastDeliverAt.Add(time.Nanosecond)) {
		deliverAt = s.lastDeliverAt.Add(time.Nanosecond)
	}
	s.lastDeliverAt = deliverAt

	dropped := s.profile.LossProbability > 0 && s.rng.Float64() < s.profile.LossProbability
	s.mu.Unlock()

	d := delivery{deliverAt: deliverAt, dropped: dropped, payload: payload, deliver: deliver}
	select {
	case s.queue <- d:
	case <-ctx.Done():
	case <-s.done:
	}
}

// drainTokens enforces the bandwidth cap as a continuously refilling
// token bucket: sending n bytes costs n/bandwidth seconds of additional
// delay once the bucket is empty. Must be called with mu held.
func (s *Shaper) drainTokens(n int) time.Duration {
	if s.profile.BandwidthBPS <= 0 {
		return 0
	}

	now := time.Now()
	elapsed := now.Sub(s.lastRefill).Seconds()
	s.tokens += elapsed * float64(s.profile.BandwidthBPS)
	bucketCap := float64(s.profile.BandwidthBPS) // at most 1s worth of burst
	if s.tokens > bucketCap {
		s.tokens = bucketCap
	}
	s.lastRefill = now

	s.tokens -= float64(n)
	if s.tokens >= 0 {
		return 0
	}
	deficit := -s.tokens
	s.tokens = 0
	return time.Duration(deficit / float64(s.profile.BandwidthBPS) * float64(time.Second))
}

// Close stops the delivery worker. Idempotent.
func (s *Shaper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
