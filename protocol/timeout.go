package protocol

import (
	"time"

	"github.com/Magic-six/experiment/netsim"
)

// Adaptive receive timeout, grounded on
// original_source/core/participant_enhanced.py's calculate_timeout: a
// base timeout scaled by the network profile's delay, loss, and
// bandwidth so a WAN round isn't held to a LAN-sized deadline.
const (
	DefaultBaseRecvTimeout = 2 * time.Second
	MinRecvTimeout         = 100 * time.Millisecond
	MaxRecvTimeout         = 30 * time.Second
)

func isLocalProfile(p netsim.Profile) bool {
	return p.OneWayDelay == 0 && p.BandwidthBPS == 0 && p.LossProbability == 0
}

// adaptiveRecvTimeout scales base the way participant_enhanced.py's
// calculate_timeout does, then clamps to [MinRecvTimeout, MaxRecvTimeout].
// A Local profile (no delay, no bandwidth cap, no loss) gets base back
// unchanged, neither scaled nor clamped.
func adaptiveRecvTimeout(base time.Duration, profile netsim.Profile) time.Duration {
	if isLocalProfile(profile) {
		return base
	}

	delayFactor := profile.OneWayDelay.Seconds() * 3
	if delayFactor > 5 {
		delayFactor = 5
	}
	if delayFactor < 1 {
		delayFactor = 1
	}

	lossFactor := 1.0
	switch {
	case profile.LossProbability > 0.05:
		lossFactor = 1.5
	case profile.LossProbability > 0.01:
		lossFactor = 1.2
	}

	bandwidthFactor := 1.0
	if profile.BandwidthBPS > 0 && profile.BandwidthBPS < 500_000 {
		bandwidthFactor = 1.5
	}

	timeout := time.Duration(float64(base) * delayFactor * lossFactor * bandwidthFactor)
	if timeout < MinRecvTimeout {
		timeout = MinRecvTimeout
	}
	if timeout > MaxRecvTimeout {
		timeout = MaxRecvTimeout
	}
	return timeout
}
