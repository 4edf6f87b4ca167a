// ABOUTME: Process-wide cache of per-device capability probes
// ABOUTME: Backends record raw processing support once per device at activation
package capability

import "sync"

// Cache remembers which device IDs passed a capability probe. Probes can be
// slow (they may round-trip to the audio service), so backends run them once
// at device activation and streams read the cached answer at open time.
type Cache struct {
	mu        sync.Mutex
	supported map[string]bool
}

func New() *Cache {
	return &Cache{supported: make(map[string]bool)}
}

// UpdateCache records the probe outcome for a device.
func (c *Cache) UpdateCache(deviceID string, supported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supported[deviceID] = supported
}

// IsSupported reports the cached outcome for a device. Unprobed devices
// report false.
func (c *Cache) IsSupported(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supported[deviceID]
}

var rawProcessing = New()

// RawProcessing is the shared cache of raw (unprocessed) capture support,
// covering devices that can bypass platform effects like echo cancellation.
func RawProcessing() *Cache {
	return rawProcessing
}
