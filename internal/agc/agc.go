// ABOUTME: Cached session volume for automatic gain control consumers
// ABOUTME: Safe for concurrent reads from the capture goroutine
package agc

import "sync"

// VolumeCache hands the most recently observed session volume to the
// capture path without a device query per packet. Volume queries can block
// on the audio service, so the lifecycle goroutine stores values here and
// the capture goroutine only ever reads the cache.
//
// When AGC is disabled the cache reports zero, which consumers treat as
// "no volume information".
type VolumeCache struct {
	mu      sync.Mutex
	enabled bool
	volume  float64
}

func NewVolumeCache() *VolumeCache {
	return &VolumeCache{}
}

// SetEnabled toggles AGC volume reporting.
func (c *VolumeCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether AGC volume reporting is on.
func (c *VolumeCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Store records the latest session volume, normalized to [0.0, 1.0].
func (c *VolumeCache) Store(volume float64) {
	if volume < 0.0 {
		volume = 0.0
	} else if volume > 1.0 {
		volume = 1.0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = volume
}

// Volume returns the cached session volume, or 0.0 when AGC is disabled.
func (c *VolumeCache) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return 0.0
	}
	return c.volume
}
